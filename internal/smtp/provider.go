package smtp

import (
	"runtime/debug"

	"github.com/shineum/smtp-transport/internal/conn"
	"github.com/shineum/smtp-transport/internal/options"
	"github.com/shineum/smtp-transport/internal/provider"
)

const clientModule = "github.com/emersion/go-smtp"

// ProviderName is the name reported by Provider.
const ProviderName = "smtp"

// Provider opens SMTP sessions. It is the transport's default provider.
type Provider struct{}

var _ provider.Provider = Provider{}

// NewConnection returns a new unconnected session.
func (Provider) NewConnection(opts options.Options) conn.Connection {
	return New(opts)
}

// Name returns the provider name.
func (Provider) Name() string {
	return ProviderName
}

// ClientVersion reports the version of the SMTP client library linked into
// the binary.
func ClientVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == clientModule {
			return dep.Version
		}
	}
	return "unknown"
}
