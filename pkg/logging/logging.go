package logging

// Verbosity levels used with klog.V throughout the project.
const (
	Debug = 4
)
