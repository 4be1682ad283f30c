package handlers

import (
	"fmt"
	"net/http"
)

type instanceView struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	LocalPort   int    `json:"local_port,omitempty"`
	JumpHost    string `json:"jump_host,omitempty"`
	UseTunnel   bool   `json:"use_tunnel"`
	Environment string `json:"environment"`
	Platform    string `json:"platform"`
	Description string `json:"description,omitempty"`
	Connected   bool   `json:"connected"`
	URL         string `json:"url,omitempty"`
}

// ListInstances renders the inventory with live connection state.
// Optional ?environment= and ?platform= filters narrow the list.
func ListInstances(w http.ResponseWriter, r *http.Request) {
	instances := Inv.All()
	if env := r.URL.Query().Get("environment"); env != "" {
		instances = Inv.ByEnvironment(env)
	} else if platform := r.URL.Query().Get("platform"); platform != "" {
		instances = Inv.ByPlatform(platform)
	}

	active := Tunnels.ListActive()

	views := make([]instanceView, 0, len(instances))
	for _, inst := range instances {
		v := instanceView{
			Name:        inst.Name,
			DisplayName: inst.DisplayName,
			Host:        inst.Host,
			Port:        inst.Port,
			LocalPort:   inst.LocalPort,
			JumpHost:    inst.JumpHost,
			UseTunnel:   inst.UseTunnel,
			Environment: inst.Environment,
			Platform:    inst.Platform,
			Description: inst.Description,
		}
		if _, ok := active[inst.Name]; ok {
			v.Connected = true
			if host, port, ok := Tunnels.ActiveEndpoint(inst); ok {
				v.URL = fmt.Sprintf("%s://%s:%d", inst.APIScheme(), host, port)
			}
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instances": views,
		"count":     len(views),
	})
}
