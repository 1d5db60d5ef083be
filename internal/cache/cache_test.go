package cache

import (
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponyhq/pony/internal/model"
)

func newWgConn(env string, nodeID uuid.UUID, addr string) *model.Connection {
	return &model.Connection{
		ID:  uuid.New(),
		Env: env,
		Proto: model.WireguardProto(&model.WgParam{
			Keys:    model.WgKeys{Privkey: "p", Pubkey: "P"},
			Address: model.IPMask{Addr: netip.MustParseAddr(addr), CIDR: 32},
		}, nodeID),
		Status:     model.ConnActive,
		CreatedAt:  time.Now(),
		ModifiedAt: time.Now(),
	}
}

func TestPutConnectionIdempotent(t *testing.T) {
	c := New()
	conn := &model.Connection{ID: uuid.New(), Env: "dev", Proto: model.XrayProto(model.TagVmess)}

	assert.Equal(t, model.OpOk, c.PutConnection(conn))
	assert.Equal(t, model.OpAlreadyExist, c.PutConnection(conn))

	changed := conn.Clone()
	changed.IsTrial = true
	assert.Equal(t, model.OpUpdated, c.PutConnection(changed))
}

func TestPutConnectionReturnsClones(t *testing.T) {
	c := New()
	conn := newWgConn("dev", uuid.New(), "10.0.0.2")
	c.PutConnection(conn)

	got, ok := c.Connection(conn.ID)
	require.True(t, ok)
	got.Proto.Wg.Address.Addr = netip.MustParseAddr("10.9.9.9")

	again, ok := c.Connection(conn.ID)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", again.Proto.Wg.Address.Addr.String())
}

func TestMarkDeletedIsTerminal(t *testing.T) {
	c := New()
	conn := &model.Connection{ID: uuid.New(), Env: "dev", Proto: model.Hysteria2Proto("tok")}
	c.PutConnection(conn)

	_, ok := c.LookupToken("tok")
	assert.True(t, ok)

	assert.Equal(t, model.OpOk, c.MarkDeleted(conn.ID))
	assert.Equal(t, model.OpNotModified, c.MarkDeleted(conn.ID))
	assert.Equal(t, model.OpNotFound, c.MarkDeleted(uuid.New()))

	_, ok = c.LookupToken("tok")
	assert.False(t, ok)
}

func TestRemoveConnectionSilentWhenAbsent(t *testing.T) {
	c := New()
	c.RemoveConnection(uuid.New())

	conn := &model.Connection{ID: uuid.New(), Env: "dev", Proto: model.Hysteria2Proto("tok")}
	c.PutConnection(conn)
	c.RemoveConnection(conn.ID)

	_, ok := c.Connection(conn.ID)
	assert.False(t, ok)
	_, ok = c.LookupToken("tok")
	assert.False(t, ok)
}

func TestWireguardLoadCountsPerNode(t *testing.T) {
	c := New()
	n1, n2 := uuid.New(), uuid.New()
	c.PutConnection(newWgConn("dev", n1, "10.0.0.2"))
	c.PutConnection(newWgConn("dev", n1, "10.0.0.3"))
	c.PutConnection(newWgConn("dev", n2, "10.0.1.2"))
	c.PutConnection(newWgConn("prod", n2, "10.0.2.2"))

	deleted := newWgConn("dev", n1, "10.0.0.4")
	deleted.IsDeleted = true
	c.PutConnection(deleted)

	load := c.WireguardLoad("dev")
	assert.Equal(t, 2, load[n1])
	assert.Equal(t, 1, load[n2])
}

func TestWireguardAddrs(t *testing.T) {
	c := New()
	n1 := uuid.New()
	c.PutConnection(newWgConn("dev", n1, "10.0.0.2"))
	c.PutConnection(newWgConn("dev", n1, "10.0.0.5"))
	c.PutConnection(newWgConn("dev", uuid.New(), "10.0.1.2"))

	addrs := c.WireguardAddrs(n1)
	assert.Len(t, addrs, 2)
	assert.Contains(t, addrs, netip.MustParseAddr("10.0.0.2"))
	assert.Contains(t, addrs, netip.MustParseAddr("10.0.0.5"))
}

func TestNodesFilteredByEnv(t *testing.T) {
	c := New()
	c.UpsertNode(&model.Node{ID: uuid.New(), Env: "dev", Status: model.NodeOnline})
	c.UpsertNode(&model.Node{ID: uuid.New(), Env: "dev", Status: model.NodeOnline})
	c.UpsertNode(&model.Node{ID: uuid.New(), Env: "prod", Status: model.NodeOnline})

	assert.Len(t, c.Nodes("dev"), 2)
	assert.Len(t, c.Nodes("prod"), 1)
	assert.Len(t, c.Nodes(""), 3)
}

func TestSetNodeStatus(t *testing.T) {
	c := New()
	n := &model.Node{ID: uuid.New(), Env: "dev", Status: model.NodeOnline}
	c.UpsertNode(n)

	assert.True(t, c.SetNodeStatus(n.Key(), model.NodeOffline))
	assert.False(t, c.SetNodeStatus(n.Key(), model.NodeOffline))

	got, ok := c.Node("dev", n.ID)
	require.True(t, ok)
	assert.Equal(t, model.NodeOffline, got.Status)

	assert.False(t, c.SetNodeStatus(model.NodeKey{Env: "dev", ID: uuid.New()}, model.NodeOffline))
}

func TestUpdateStat(t *testing.T) {
	c := New()
	conn := &model.Connection{ID: uuid.New(), Env: "dev", Proto: model.XrayProto(model.TagVmess)}
	c.PutConnection(conn)

	assert.True(t, c.UpdateStat(conn.ID, model.ConnectionStat{Uplink: 10, Downlink: 20, Online: 1}))
	got, _ := c.Connection(conn.ID)
	assert.Equal(t, uint64(10), got.Stat.Uplink)

	assert.False(t, c.UpdateStat(uuid.New(), model.ConnectionStat{}))
}
