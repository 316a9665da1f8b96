// Package discovery registers the service with consul so the gateway can
// find it. Registration is optional; without a consul address the service
// runs standalone.
package discovery

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type Registration struct {
	client *consulapi.Client
	id     string
	log    *zap.SugaredLogger
}

func Register(consulAddr, serviceName, serviceAddr string, servicePort int, log *zap.SugaredLogger) (*Registration, error) {
	conf := consulapi.DefaultConfig()
	conf.Address = consulAddr
	client, err := consulapi.NewClient(conf)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("%s-%s-%d", serviceName, serviceAddr, servicePort)
	reg := &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    serviceName,
		Address: serviceAddr,
		Port:    servicePort,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/healthz", serviceAddr, servicePort),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return nil, err
	}
	log.Infow("registered with consul", "service", serviceName, "id", id)
	return &Registration{client: client, id: id, log: log}, nil
}

func (r *Registration) Deregister() {
	if err := r.client.Agent().ServiceDeregister(r.id); err != nil {
		r.log.Warnw("consul deregister", "id", r.id, "err", err)
	}
}
