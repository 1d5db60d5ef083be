package agent

import (
	"context"
	"fmt"
	"strings"

	handlercmd "github.com/xtls/xray-core/app/proxyman/command"
	statscmd "github.com/xtls/xray-core/app/stats/command"
	"github.com/xtls/xray-core/common/protocol"
	"github.com/xtls/xray-core/common/serial"
	"github.com/xtls/xray-core/proxy/shadowsocks"
	"github.com/xtls/xray-core/proxy/vless"
	"github.com/xtls/xray-core/proxy/vmess"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ponyhq/pony/internal/model"
	"github.com/rs/zerolog"
)

// XrayClient drives the local Xray instance over its gRPC API: user CRUD on
// inbounds plus the per-user and per-inbound traffic counters.
type XrayClient struct {
	conn    *grpc.ClientConn
	handler handlercmd.HandlerServiceClient
	stats   statscmd.StatsServiceClient
	logger  zerolog.Logger
}

func NewXrayClient(addr string, logger zerolog.Logger) (*XrayClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial xray api %s: %w", addr, err)
	}
	return &XrayClient{
		conn:    conn,
		handler: handlercmd.NewHandlerServiceClient(conn),
		stats:   statscmd.NewStatsServiceClient(conn),
		logger:  logger.With().Str("component", "xray").Logger(),
	}, nil
}

func (c *XrayClient) Close() error {
	return c.conn.Close()
}

// AddUser provisions a connection on the inbound matching its tag. The
// account type follows the inbound protocol; the connection id doubles as
// the VLESS/VMess user id.
func (c *XrayClient) AddUser(ctx context.Context, conn *model.Connection) error {
	account, err := xrayAccount(conn)
	if err != nil {
		return err
	}
	_, err = c.handler.AlterInbound(ctx, &handlercmd.AlterInboundRequest{
		Tag: string(conn.Proto.Tag),
		Operation: serial.ToTypedMessage(&handlercmd.AddUserOperation{
			User: &protocol.User{
				Email:   conn.Email(),
				Account: account,
			},
		}),
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("add user %s to %s: %w", conn.Email(), conn.Proto.Tag, err)
	}
	return nil
}

// RemoveUser drops a user from the inbound. Removing an unknown user is not
// an error: delete events are replayed.
func (c *XrayClient) RemoveUser(ctx context.Context, tag model.ProtoTag, email string) error {
	_, err := c.handler.AlterInbound(ctx, &handlercmd.AlterInboundRequest{
		Tag: string(tag),
		Operation: serial.ToTypedMessage(&handlercmd.RemoveUserOperation{
			Email: email,
		}),
	})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("remove user %s from %s: %w", email, tag, err)
	}
	return nil
}

func xrayAccount(conn *model.Connection) (*serial.TypedMessage, error) {
	switch {
	case conn.Proto.Tag == model.TagVlessTcpReality:
		// Vision flow is only valid on the raw TCP transport.
		return serial.ToTypedMessage(&vless.Account{Id: conn.ID.String(), Flow: "xtls-rprx-vision"}), nil
	case conn.Proto.Tag.IsVless():
		return serial.ToTypedMessage(&vless.Account{Id: conn.ID.String()}), nil
	case conn.Proto.Tag == model.TagVmess:
		return serial.ToTypedMessage(&vmess.Account{Id: conn.ID.String()}), nil
	case conn.Proto.Tag == model.TagShadowsocks:
		return serial.ToTypedMessage(&shadowsocks.Account{
			Password:   conn.Proto.Password,
			CipherType: shadowsocks.CipherType_CHACHA20_POLY1305,
		}), nil
	}
	return nil, fmt.Errorf("no xray account for proto %q", conn.Proto.Tag)
}

// UserStats reads a user's cumulative counters. Missing counters read as
// zero: Xray only materializes a counter once traffic flows.
func (c *XrayClient) UserStats(ctx context.Context, email string) (model.ConnectionStat, error) {
	uplink, err := c.getStat(ctx, fmt.Sprintf("user>>>%s>>>traffic>>>uplink", email), false)
	if err != nil {
		return model.ConnectionStat{}, err
	}
	downlink, err := c.getStat(ctx, fmt.Sprintf("user>>>%s>>>traffic>>>downlink", email), false)
	if err != nil {
		return model.ConnectionStat{}, err
	}
	online, err := c.getOnline(ctx, email)
	if err != nil {
		return model.ConnectionStat{}, err
	}
	return model.ConnectionStat{
		Uplink:   uint64(uplink),
		Downlink: uint64(downlink),
		Online:   uint64(online),
	}, nil
}

// ResetUserStat reads and zeroes the user's traffic counters in one call.
func (c *XrayClient) ResetUserStat(ctx context.Context, email string) error {
	if _, err := c.getStat(ctx, fmt.Sprintf("user>>>%s>>>traffic>>>uplink", email), true); err != nil {
		return err
	}
	if _, err := c.getStat(ctx, fmt.Sprintf("user>>>%s>>>traffic>>>downlink", email), true); err != nil {
		return err
	}
	return nil
}

// InboundStat is the per-listener aggregate.
type InboundStat struct {
	Uplink    uint64
	Downlink  uint64
	UserCount int64
}

func (c *XrayClient) InboundStats(ctx context.Context, tag model.ProtoTag) (InboundStat, error) {
	uplink, err := c.getStat(ctx, fmt.Sprintf("inbound>>>%s>>>traffic>>>uplink", tag), false)
	if err != nil {
		return InboundStat{}, err
	}
	downlink, err := c.getStat(ctx, fmt.Sprintf("inbound>>>%s>>>traffic>>>downlink", tag), false)
	if err != nil {
		return InboundStat{}, err
	}
	resp, err := c.handler.GetInboundUsersCount(ctx, &handlercmd.GetInboundUserRequest{Tag: string(tag)})
	if err != nil {
		return InboundStat{}, fmt.Errorf("count users on %s: %w", tag, err)
	}
	return InboundStat{
		Uplink:    uint64(uplink),
		Downlink:  uint64(downlink),
		UserCount: resp.GetCount(),
	}, nil
}

func (c *XrayClient) getStat(ctx context.Context, name string, reset bool) (int64, error) {
	resp, err := c.stats.GetStats(ctx, &statscmd.GetStatsRequest{Name: name, Reset_: reset})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return 0, nil
		}
		return 0, fmt.Errorf("get stat %s: %w", name, err)
	}
	return resp.GetStat().GetValue(), nil
}

func (c *XrayClient) getOnline(ctx context.Context, email string) (int64, error) {
	name := fmt.Sprintf("user>>>%s>>>online", email)
	resp, err := c.stats.GetStatsOnline(ctx, &statscmd.GetStatsRequest{Name: name})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return 0, nil
		}
		return 0, fmt.Errorf("get online %s: %w", name, err)
	}
	return resp.GetStat().GetValue(), nil
}
