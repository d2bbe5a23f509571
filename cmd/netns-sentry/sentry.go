package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/netns-sentry/netns-sentry/pkg/config"
	"github.com/netns-sentry/netns-sentry/pkg/link"
	"github.com/netns-sentry/netns-sentry/pkg/namespace"
	"github.com/netns-sentry/netns-sentry/pkg/supervisor"
)

const (
	ErrorLoadingConfig int = iota + 1
	ErrorProvisioningNamespace
)

func main() {
	// The namespace init and the sentinel boundary leader are this same
	// binary re-executed; dispatch them before the normal CLI surface.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case namespace.InitCommand:
			klog.InitFlags(nil)
			os.Exit(namespace.RunInit(os.Args[2:]))
		case supervisor.SentinelCommand:
			klog.InitFlags(nil)
			os.Exit(supervisor.RunSentinel(os.Args[2:]))
		}
	}

	klog.InitFlags(nil)
	configFilePath := flag.String("config", "", "path to an optional JSON namespace configuration file")
	name := flag.String("name", "", "namespace name; link and device names derive from it")
	address := flag.String("ip", "", "namespace address in CIDR form")
	gateway := flag.String("gateway", "", "default-route gateway inside the namespace")
	dns := flag.String("dns", "", "resolver address bind-mounted inside the namespace")
	command := flag.String("command", "", "command kept alive inside the namespace")
	donateDevice := flag.String("donate-dev", "", "host device donated wholesale to the namespace")
	bridge := flag.String("bridge", "", "host bridge the namespace attaches to")
	probeTarget := flag.String("probe-target", "", "address probed for reachability; defaults to the gateway")

	flag.Parse()

	conf, err := loadConfiguration(*configFilePath)
	if err != nil {
		klog.Errorf("failed to load the namespace configuration: %v", err)
		os.Exit(ErrorLoadingConfig)
	}

	overlayFlag(&conf.Name, *name)
	overlayFlag(&conf.Address, *address)
	overlayFlag(&conf.Gateway, *gateway)
	overlayFlag(&conf.DNS, *dns)
	overlayFlag(&conf.Command, *command)
	overlayFlag(&conf.DonatedDevice, *donateDevice)
	overlayFlag(&conf.Bridge, *bridge)
	overlayFlag(&conf.ProbeTarget, *probeTarget)
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		klog.Errorf("invalid namespace configuration: %v", err)
		os.Exit(ErrorLoadingConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := namespace.NewOrchestrator(link.NewManager())
	handle, err := orchestrator.Provision(ctx, conf)
	if err != nil {
		klog.Errorf("failed to provision namespace %s: %v", conf.Name, err)
		os.Exit(ErrorProvisioningNamespace)
	}

	sentry := supervisor.New(
		supervisor.NewExecLauncher(),
		supervisor.NewBaselineResetter(handle, conf))
	if err := sentry.Run(ctx, handle, conf); err != nil {
		klog.Errorf("supervision of namespace %s failed: %v", conf.Name, err)
	}

	if err := handle.Terminate(); err != nil {
		klog.Errorf("failed to terminate namespace %s: %v", conf.Name, err)
	}
	klog.Infof("namespace %s shut down", conf.Name)
}

func loadConfiguration(configFilePath string) (*config.NamespaceConfig, error) {
	if configFilePath == "" {
		return config.FromEnvironment(), nil
	}
	return config.Load(configFilePath)
}

func overlayFlag(field *string, value string) {
	if value != "" {
		*field = value
	}
}
