package agent

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ponyhq/pony/internal/model"
)

// xrayConfig is the slice of the local Xray config file the agent cares
// about: the inbound listeners it will report to the orchestrator.
type xrayConfig struct {
	Inbounds []xrayInbound `json:"inbounds"`
}

type xrayInbound struct {
	Tag            string          `json:"tag"`
	Port           uint16          `json:"port"`
	Protocol       string          `json:"protocol"`
	StreamSettings json.RawMessage `json:"streamSettings,omitempty"`
}

// LoadInbounds reads the Xray config file and maps its inbounds to the
// orchestrator model. Inbounds with tags outside the known protocol set
// (the api inbound, for one) are skipped.
func LoadInbounds(path string) (map[model.ProtoTag]model.Inbound, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read xray config %s: %w", path, err)
	}
	var cfg xrayConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse xray config %s: %w", path, err)
	}

	inbounds := make(map[model.ProtoTag]model.Inbound)
	for _, ib := range cfg.Inbounds {
		tag, err := model.ParseProtoTag(ib.Tag)
		if err != nil {
			continue
		}
		if _, dup := inbounds[tag]; dup {
			return nil, fmt.Errorf("xray config %s: duplicate inbound tag %q", path, ib.Tag)
		}
		inbounds[tag] = model.Inbound{
			Tag:            tag,
			Port:           ib.Port,
			StreamSettings: ib.StreamSettings,
		}
	}
	return inbounds, nil
}
