package types

import (
	"strings"
	"time"

	v1 "k8s.io/api/core/v1"
)

const (
	//MetricNamespace is the prefix put in front of every metric name emitted by the collector
	MetricNamespace = "nvml"
	//PodResourcesSocket is the kubelet PodResources endpoint. It is assumed to be a unix socket reachable from this process
	PodResourcesSocket = "/var/lib/kubelet/pod-resources/kubelet.sock"
	//TagRefreshInterval controls how long the tag poller sleeps between two kubelet queries
	TagRefreshInterval = 10 * time.Second
	//GPUResourceName is the extended resource the NVIDIA device plugin advertises GPUs under
	GPUResourceName v1.ResourceName = "nvidia.com/gpu"
)

// Tag prefixes, named the way the Kubernetes integrations already tag pods
const (
	GPUTagPrefix           = "gpu:"
	PodNameTagPrefix       = "pod_name:"
	KubeNamespaceTagPrefix = "kube_namespace:"
	KubeContainerTagPrefix = "kube_container_name:"
)

// ReservedTagKeys are set by the collector itself and cannot be used by configured tags
var ReservedTagKeys = []string{
	strings.TrimSuffix(GPUTagPrefix, ":"),
	strings.TrimSuffix(PodNameTagPrefix, ":"),
	strings.TrimSuffix(KubeNamespaceTagPrefix, ":"),
	strings.TrimSuffix(KubeContainerTagPrefix, ":"),
}
