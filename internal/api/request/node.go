package request

import (
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"github.com/ponyhq/pony/internal/model"
)

// RegisterNode is the agent's self-announcement. Inbounds arrive keyed by
// tag, the same shape model.Node marshals to.
type RegisterNode struct {
	ID              uuid.UUID                        `json:"id" validate:"required"`
	Env             string                           `json:"env" validate:"required,max=50"`
	Hostname        string                           `json:"hostname" validate:"required"`
	Address         string                           `json:"address" validate:"required,ip4_addr"`
	Interface       string                           `json:"interface"`
	Label           string                           `json:"label"`
	Cores           int                              `json:"cores" validate:"min=0"`
	MaxBandwidthBps uint64                           `json:"max_bandwidth_bps"`
	Inbounds        map[model.ProtoTag]model.Inbound `json:"inbounds" validate:"dive"`
}

func (r RegisterNode) Model() (*model.Node, error) {
	addr, err := netip.ParseAddr(r.Address)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}

	inbounds := make(map[model.ProtoTag]model.Inbound, len(r.Inbounds))
	for tag, ib := range r.Inbounds {
		if _, err := model.ParseProtoTag(string(tag)); err != nil {
			return nil, err
		}
		if ib.Tag != "" && ib.Tag != tag {
			return nil, fmt.Errorf("inbound key %q does not match tag %q", tag, ib.Tag)
		}
		ib.Tag = tag
		inbounds[tag] = ib
	}

	return &model.Node{
		ID:              r.ID,
		Env:             r.Env,
		Hostname:        r.Hostname,
		Address:         addr,
		Interface:       r.Interface,
		Label:           r.Label,
		Cores:           r.Cores,
		MaxBandwidthBps: r.MaxBandwidthBps,
		Inbounds:        inbounds,
	}, nil
}
