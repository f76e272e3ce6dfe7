package discovery

import "github.com/amirimatin/go-replmon/pkg/replset"

// Discovery provides the ordered list of candidate hosts probed during
// primary discovery.
type Discovery interface {
    Hosts() []replset.HostAddress
}
