package podtags

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	v1 "k8s.io/api/core/v1"
	podresourcesapi "k8s.io/kubelet/pkg/apis/podresources/v1"

	"github.com/nxsre/nvml-collector/pkg/types"
	"github.com/nxsre/nvml-collector/pkg/utils"
)

// kubelet answers with every pod on the node in one message, the default 4MiB limit is too small on big nodes
const maxListResponseSize = 16 * 1024 * 1024

// Lister returns the device assignments of every pod on the node
type Lister interface {
	List(ctx context.Context) (*podresourcesapi.ListPodResourcesResponse, error)
}

type kubeletLister struct {
	socket  string
	timeout time.Duration
	dialer  utils.Dialer
}

// NewKubeletLister queries the kubelet PodResources service on socket, opening a fresh connection per call
func NewKubeletLister(socket string, timeout time.Duration) Lister {
	return &kubeletLister{
		socket:  socket,
		timeout: timeout,
		// a connection serves a single List call, keep-alive probes are never needed
		dialer: utils.NewDialer(
			utils.RetryOption(2),
			utils.TimeoutOption(timeout),
			utils.DialerOption(&net.Dialer{KeepAlive: -1}),
		),
	}
}

func (k *kubeletLister) List(ctx context.Context) (*podresourcesapi.ListPodResourcesResponse, error) {
	conn, err := grpc.NewClient("unix://"+k.socket,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(utils.UnixContextDialer(k.dialer)),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxListResponseSize)),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create client for %s", k.socket)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	resp, err := podresourcesapi.NewPodResourcesListerClient(conn).List(ctx, &podresourcesapi.ListPodResourcesRequest{})
	if err != nil {
		return nil, errors.Wrapf(err, "listing pod resources at %s failed", k.socket)
	}
	return resp, nil
}

// BuildMapping extracts the devices of resourceName from a List response and tags each with its pod, namespace and container
func BuildMapping(resp *podresourcesapi.ListPodResourcesResponse, resourceName v1.ResourceName) types.TagMapping {
	mapping := types.TagMapping{}
	for _, pod := range resp.GetPodResources() {
		for _, container := range pod.GetContainers() {
			for _, device := range container.GetDevices() {
				if device.GetResourceName() != string(resourceName) {
					continue
				}
				for _, id := range device.GetDeviceIds() {
					mapping[id] = []string{
						types.PodNameTagPrefix + pod.GetName(),
						types.KubeNamespaceTagPrefix + pod.GetNamespace(),
						types.KubeContainerTagPrefix + container.GetName(),
					}
				}
			}
		}
	}
	return mapping
}
