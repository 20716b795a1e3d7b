package aggregator

import (
	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/normalizer"
)

// ServerRollup holds the line items of one server within a service and env
type ServerRollup struct {
	Server  string                  `json:"server"`
	Total   float64                 `json:"total"`
	Records []normalizer.CostRecord `json:"-"`
}

// EnvRollup holds the servers of one environment within a service
type EnvRollup struct {
	Env     string         `json:"env"`
	Total   float64        `json:"total"`
	Servers []ServerRollup `json:"servers"`
}

// ServiceRollup is the drill-down tree of one service
type ServiceRollup struct {
	Service string      `json:"service"`
	Total   float64     `json:"total"`
	Envs    []EnvRollup `json:"envs"`
}

// ForService returns the records of a service
func (d *Dataset) ForService(service string) *Dataset {
	return d.Filter(extract.Service, service)
}

// ForServiceAndEnv returns the records of a service in one environment
func (d *Dataset) ForServiceAndEnv(service, env string) *Dataset {
	return d.Where(Eq(extract.Service, service), Eq(extract.Env, env))
}

// ForServer returns the records of a server
func (d *Dataset) ForServer(server string) *Dataset {
	return d.Filter(extract.Server, server)
}

// ForServerAndAWSService returns the records of one vendor sub-service on a server
func (d *Dataset) ForServerAndAWSService(server, awsService string) *Dataset {
	return d.Where(Eq(extract.Server, server), Eq(extract.AWSService, awsService))
}

// ServersFor returns the servers of a service and env in record order
func (d *Dataset) ServersFor(service, env string) []string {
	return d.ForServiceAndEnv(service, env).inOrder(extract.Server)
}

// inOrder returns distinct values of field in first-appearance order
func (d *Dataset) inOrder(field Field) []string {
	seen := make(map[string]struct{})
	var values []string
	for _, r := range d.records {
		v := r.Field(field)
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}
	return values
}

// DrillDown builds the env → server → line item tree of a service.
// Environments come in report order and servers in record order. Groups
// without records are left out.
func (d *Dataset) DrillDown(service string) ServiceRollup {
	sCosts := d.ForService(service)
	rollup := ServiceRollup{
		Service: service,
		Total:   sCosts.Total(),
	}

	for _, env := range d.Envs() {
		seCosts := sCosts.Filter(extract.Env, env)
		if seCosts.Empty() {
			continue
		}

		envRollup := EnvRollup{Env: env, Total: seCosts.Total()}
		for _, server := range seCosts.inOrder(extract.Server) {
			sesCosts := seCosts.Filter(extract.Server, server)
			envRollup.Servers = append(envRollup.Servers, ServerRollup{
				Server:  server,
				Total:   sesCosts.Total(),
				Records: sesCosts.records,
			})
		}
		rollup.Envs = append(rollup.Envs, envRollup)
	}

	return rollup
}

// DrillDownAll builds the tree of every service, services in name order
func (d *Dataset) DrillDownAll() []ServiceRollup {
	services := d.Services()
	out := make([]ServiceRollup, 0, len(services))
	for _, s := range services {
		out = append(out, d.DrillDown(s))
	}
	return out
}
