/*
Package runtime provides the container engines the local orchestrator drives.

Runtime is the narrow port the orchestrator and the device service need:
image presence, pull and inspect, plus create-and-start, stop, remove and
list for containers. Three implementations exist:

  - DockerRuntime talks to the Docker engine API, the usual setup on devices
  - ContainerdRuntime talks to containerd directly, in its own namespace
    (default "archapi")
  - MemoryRuntime records calls without touching any engine, for dry runs and tests

# Managed Containers

Every container created for a module carries three labels:

	archapi.managed=true
	archapi.configuration=<configuration name>
	archapi.module=<instance name>

ListContainers returns every container on the engine, with Managed,
Configuration and Module filled in from these labels, so callers can tell
what this daemon owns from what merely conflicts on a name.

# Spec Translation

The normalized types.ContainerSpec maps onto engine options as follows:

	ports          internal "80" or "53/udp" -> published host port
	volumes        host path -> bind target and mode
	mem_limit      go-units sizes such as "512m"; "-1" for unlimited swap
	restart_policy engine restart policy (docker only)
	extra          hostname, user, working_dir, entrypoint, cap_add,
	               devices, shm_size, ipc_mode, pid_mode, runtime, extra_hosts

Unknown extra keys are ignored.
*/
package runtime
