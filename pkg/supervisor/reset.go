package supervisor

import (
	"fmt"

	"github.com/netns-sentry/netns-sentry/pkg/config"
	"github.com/netns-sentry/netns-sentry/pkg/link"
	"github.com/netns-sentry/netns-sentry/pkg/namespace"
)

// BaselineResetter restores a namespace's addressing and routing state to
// the configured baseline between supervision cycles.
type BaselineResetter struct {
	openNet func(pid int) (link.NamespaceNet, error)
	pid     int
	conf    *config.NamespaceConfig
}

// NewBaselineResetter returns a Resetter operating on the namespace behind
// the handle.
func NewBaselineResetter(handle *namespace.Handle, conf *config.NamespaceConfig) *BaselineResetter {
	return &BaselineResetter{
		openNet: link.OpenNamespaceNet,
		pid:     handle.Pid,
		conf:    conf,
	}
}

// Reset flushes all addresses and routes (the default route with them) and
// reapplies the configured baseline. Flushing strictly precedes
// reapplication; the sequence is idempotent.
func (r *BaselineResetter) Reset() error {
	namespaceNet, err := r.openNet(r.pid)
	if err != nil {
		return err
	}
	defer namespaceNet.Close()
	return ResetBaseline(namespaceNet, r.conf)
}

// ResetBaseline performs the flush+reapply sequence on an already opened
// namespace view.
func ResetBaseline(namespaceNet link.NamespaceNet, conf *config.NamespaceConfig) error {
	linkName := conf.NamespaceLinkName()

	if err := namespaceNet.FlushAddresses(linkName); err != nil {
		return fmt.Errorf("failed to flush addresses from %s: %w", linkName, err)
	}
	if err := namespaceNet.FlushRoutes(); err != nil {
		return fmt.Errorf("failed to flush routes: %w", err)
	}

	if err := namespaceNet.ApplyAddress(linkName, conf.Address); err != nil {
		return fmt.Errorf("failed to reapply the address to %s: %w", linkName, err)
	}
	if err := namespaceNet.BringUp(linkName); err != nil {
		return fmt.Errorf("failed to bring %s back up: %w", linkName, err)
	}
	if conf.Gateway != "" {
		if err := namespaceNet.ApplyDefaultRoute(conf.Gateway); err != nil {
			return fmt.Errorf("failed to reapply the default route: %w", err)
		}
	}
	return nil
}
