// Package vpnclient reads the state a VPN client publishes in its output directory.
//
// The client connect script writes these files:
//
//	nameserver.ipv4  space-separated IPv4 resolvers
//	nameserver.ipv6  space-separated IPv6 resolvers
//	routes           comma-separated subnets to route through the tunnel
//	reason           last script reason; "connect" or "reconnect" means the link is up
//	message          free-form status text
package vpnclient

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"unicode"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/config"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

const (
	FileNameserverV4 = "nameserver.ipv4"
	FileNameserverV6 = "nameserver.ipv6"
	FileRoutes       = "routes"
	FileReason       = "reason"
	FileMessage      = "message"
)

var upReasons = []string{"connect", "reconnect"}

// PeerResolver finds the point-to-point peer of an interface. *routing.Manager implements it.
type PeerResolver interface {
	PeerAddress(iface string) (string, error)
}

// Client is one configured VPN client profile.
type Client struct {
	profile *config.VPNClientConfig
	dir     string
	peers   PeerResolver
}

// New binds a profile to its resolved output directory. peers may be nil when the
// profile sets remote_ip.
func New(profile *config.VPNClientConfig, outputDir string, peers PeerResolver) *Client {
	return &Client{profile: profile, dir: outputDir, peers: peers}
}

func (c *Client) Profile() *config.VPNClientConfig {
	return c.profile
}

func (c *Client) Name() string {
	return c.profile.Name
}

func (c *Client) Interface() string {
	return c.profile.Interface
}

func (c *Client) OutputDir() string {
	return c.dir
}

// DNSServers returns IPv4 resolvers followed by IPv6 resolvers. Unreadable files yield
// no servers.
func (c *Client) DNSServers() []string {
	servers := c.readList(FileNameserverV4, ' ')
	return append(servers, c.readList(FileNameserverV6, ' ')...)
}

// RoutedSubnets returns the subnets pushed by the VPN server.
func (c *Client) RoutedSubnets() []string {
	return c.readList(FileRoutes, ',')
}

// IsLinkUp reports whether the last reason written by the client script is a connect.
func (c *Client) IsLinkUp() bool {
	reason, err := c.read(FileReason)
	if err != nil {
		return false
	}
	reason = strings.TrimSpace(reason)
	for _, r := range upReasons {
		if reason == r {
			return true
		}
	}
	return false
}

func (c *Client) Message() string {
	msg, _ := c.read(FileMessage)
	return strings.TrimSpace(msg)
}

// RemoteIP returns the configured remote_ip, or the peer address of the interface.
func (c *Client) RemoteIP() string {
	if c.profile.RemoteIP != "" {
		return c.profile.RemoteIP
	}
	if c.peers == nil {
		return ""
	}
	peer, err := c.peers.PeerAddress(c.profile.Interface)
	if err != nil {
		log.Debugf("No peer address for %s: %v", c.profile.Interface, err)
		return ""
	}
	return peer
}

// State is everything the supervisor needs to enforce a client.
type State struct {
	LinkUp     bool     `json:"link_up"`
	RemoteIP   string   `json:"remote_ip"`
	DNSServers []string `json:"dns_servers"`
	Subnets    []string `json:"subnets"`
	Message    string   `json:"message,omitempty"`
}

// Equal compares two snapshots.
func (s State) Equal(o State) bool {
	return reflect.DeepEqual(s, o)
}

// Snapshot reads the whole output directory at once.
func (c *Client) Snapshot() State {
	st := State{
		LinkUp:     c.IsLinkUp(),
		DNSServers: c.DNSServers(),
		Subnets:    c.RoutedSubnets(),
		Message:    c.Message(),
	}
	if st.LinkUp {
		st.RemoteIP = c.RemoteIP()
	}
	return st
}

func (c *Client) read(name string) (string, error) {
	content, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// readList splits the file on sep and on whitespace.
func (c *Client) readList(name string, sep rune) []string {
	content, err := c.read(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Errorf("Failed to read %s of VPN client %s: %v", name, c.profile.Name, err)
		}
		return []string{}
	}
	return strings.FieldsFunc(content, func(r rune) bool {
		return r == sep || unicode.IsSpace(r)
	})
}
