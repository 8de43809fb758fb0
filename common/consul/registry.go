package consul

import (
	"fmt"
	"net"
	"os"

	consul "github.com/hashicorp/consul/api"
	"github.com/jackpal/gateway"
	"github.com/mason-leap-lab/go-utils/config"
	"github.com/mason-leap-lab/go-utils/logger"
)

// NewClient returns a new Client connected to the consul agent at addr.
func NewClient(addr string) (*Client, error) {
	cfg := consul.DefaultConfig()
	cfg.Address = addr

	c, err := consul.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	cli := &Client{Client: c}
	config.InitLogger(&cli.logger, "Consul ")

	return cli, nil
}

// Client implements the Service Discovery Client contract (spec 4.I):
// register_service/check, deregister_service/check, get_service_url,
// update_node_info. Grounded on the teacher's Register/Deregister pair,
// generalized with health-check registration. RegisterService records
// the address it registered; DeregisterService does not consult it and
// removes the service by id alone.
type Client struct {
	*consul.Client

	logger logger.Logger

	resolvedAddr string
	resolvedPort int
}

// getLocalIP returns the host's non-loopback IPv4 address, preferring
// the interface that owns the default route (so the registered address
// is routable from outside the host rather than an arbitrary secondary
// NIC), then falling back to the first candidate found. The
// ARRAS_NODE_NETWORK CIDR override, if set and matched by one of the
// candidates, takes precedence over both.
func (c *Client) getLocalIP() (string, error) {
	var chosen string
	var ips []net.IP

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("registry: can not find local ip")
	}

	chosen = ips[0].String()

	if gatewayIP, err := gateway.DiscoverInterface(); err == nil {
		for _, ip := range ips {
			if ip.Equal(gatewayIP) {
				chosen = ip.String()
				break
			}
		}
	} else {
		c.logger.Debug("could not discover default gateway interface: %v", err)
	}

	if override := os.Getenv("ARRAS_NODE_NETWORK"); override != "" {
		_, network, err := net.ParseCIDR(override)
		if err != nil {
			c.logger.Error("invalid network CIDR in ARRAS_NODE_NETWORK: %v", override)
		} else {
			for _, ip := range ips {
				if network.Contains(ip) {
					chosen = ip.String()
					break
				}
			}
		}
	}

	return chosen, nil
}

// RegisterService registers the node agent's HTTP service and an
// associated TCP health check at the given interval.
func (c *Client) RegisterService(name, id, ip string, port int, checkIntervalSec int) error {
	if ip == "" {
		var err error
		ip, err = c.getLocalIP()
		if err != nil {
			return err
		}
	}

	c.resolvedAddr = ip
	c.resolvedPort = port

	reg := &consul.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Port:    port,
		Address: ip,
		Check: &consul.AgentServiceCheck{
			TCP:      fmt.Sprintf("%s:%d", ip, port),
			Interval: fmt.Sprintf("%ds", checkIntervalSec),
			Timeout:  "5s",
		},
	}

	c.logger.Info("registering service [name: %s, id: %s, address: %s:%d]", name, id, ip, port)
	return c.Agent().ServiceRegister(reg)
}

// DeregisterService removes the service and its health check from the
// catalog using the same id passed to RegisterService.
func (c *Client) DeregisterService(id string) error {
	c.logger.Info("deregistering service [id: %s]", id)
	return c.Agent().ServiceDeregister(id)
}

// GetServiceURL resolves a healthy instance of service within the given
// environment/datacenter tags and returns its "host:port" address.
// Each call queries the health catalog afresh; no resolved address is
// cached, so a later call may return a different instance.
func (c *Client) GetServiceURL(service, env, datacenter string) (string, error) {
	opts := &consul.QueryOptions{}
	if datacenter != "" {
		opts.Datacenter = datacenter
	}

	entries, _, err := c.Health().Service(service, env, true, opts)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("registry: no healthy instances of service %q", service)
	}

	entry := entries[0].Service
	return fmt.Sprintf("%s:%d", entry.Address, entry.Port), nil
}

// UpdateNodeInfo pushes free-form node metadata (e.g. current tag set)
// into the service's registration so other consumers of the catalog can
// observe it without a separate side channel.
func (c *Client) UpdateNodeInfo(serviceID string, nodeInfo map[string]string) error {
	svc, _, err := c.Agent().Service(serviceID, nil)
	if err != nil {
		return err
	}

	reg := &consul.AgentServiceRegistration{
		ID:      svc.ID,
		Name:    svc.Service,
		Port:    svc.Port,
		Address: svc.Address,
		Meta:    nodeInfo,
	}
	return c.Agent().ServiceRegister(reg)
}
