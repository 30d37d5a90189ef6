package containerizer

import (
	"context"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	toolscache "k8s.io/client-go/tools/cache"

	"karavan/internal/status"
)

// openShiftRegistry is stripped from deployment images.
const openShiftRegistry = "image-registry.openshift-image-registry.svc:5000/"

// WorkloadSignal reports a change of a project Deployment or Service.
// Exactly one of Deployment and Service is set. Deleted signals only carry
// the identifying fields.
type WorkloadSignal struct {
	Action     SignalAction
	Deployment *status.DeploymentStatus
	Service    *status.ServiceStatus
}

// WorkloadWatcher is implemented by runtimes that run project workloads
// next to the dev-mode containers.
type WorkloadWatcher interface {
	WatchWorkloads(ctx context.Context, env string, fn func(WorkloadSignal)) error
}

var _ WorkloadWatcher = (*KubernetesRuntime)(nil)

// WatchWorkloads runs Deployment and Service informers over the namespace
// and reports every change as seen in env until ctx is cancelled.
func (k *KubernetesRuntime) WatchWorkloads(ctx context.Context, env string, fn func(WorkloadSignal)) error {
	cluster := k.cluster()
	return k.runInformers(ctx, "watch-workloads", "deployments and services", nil,
		informerHandler{object: &appsv1.Deployment{}, handler: deploymentEventHandler(cluster, env, fn)},
		informerHandler{object: &corev1.Service{}, handler: serviceEventHandler(cluster, env, fn)},
	)
}

// cluster names the API server the runtime talks to.
func (k *KubernetesRuntime) cluster() string {
	if k.restConfig == nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(k.restConfig.Host, "https://"), "http://")
}

func deploymentEventHandler(cluster, env string, fn func(WorkloadSignal)) toolscache.ResourceEventHandlerFuncs {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if d, ok := obj.(*appsv1.Deployment); ok {
				ds := deploymentStatus(d, cluster, env)
				fn(WorkloadSignal{Action: SignalCreated, Deployment: &ds})
			}
		},
		UpdateFunc: func(_, newObj interface{}) {
			if d, ok := newObj.(*appsv1.Deployment); ok {
				ds := deploymentStatus(d, cluster, env)
				fn(WorkloadSignal{Action: SignalUpdated, Deployment: &ds})
			}
		},
		DeleteFunc: func(obj interface{}) {
			if tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
				obj = tombstone.Obj
			}
			if d, ok := obj.(*appsv1.Deployment); ok {
				fn(WorkloadSignal{Action: SignalDeleted, Deployment: &status.DeploymentStatus{
					ProjectID: d.Name,
					Namespace: d.Namespace,
					Env:       env,
					Cluster:   cluster,
				}})
			}
		},
	}
}

func serviceEventHandler(cluster, env string, fn func(WorkloadSignal)) toolscache.ResourceEventHandlerFuncs {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if svc, ok := obj.(*corev1.Service); ok {
				ss := serviceStatus(svc, cluster, env)
				fn(WorkloadSignal{Action: SignalCreated, Service: &ss})
			}
		},
		UpdateFunc: func(_, newObj interface{}) {
			if svc, ok := newObj.(*corev1.Service); ok {
				ss := serviceStatus(svc, cluster, env)
				fn(WorkloadSignal{Action: SignalUpdated, Service: &ss})
			}
		},
		DeleteFunc: func(obj interface{}) {
			if tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
				obj = tombstone.Obj
			}
			if svc, ok := obj.(*corev1.Service); ok {
				fn(WorkloadSignal{Action: SignalDeleted, Service: &status.ServiceStatus{
					ProjectID: svc.Name,
					Namespace: svc.Namespace,
					Env:       env,
					Cluster:   cluster,
				}})
			}
		},
	}
}

func deploymentStatus(d *appsv1.Deployment, cluster, env string) status.DeploymentStatus {
	ds := status.DeploymentStatus{
		ProjectID:           d.Name,
		Namespace:           d.Namespace,
		Env:                 env,
		Cluster:             cluster,
		ReadyReplicas:       int(d.Status.ReadyReplicas),
		UnavailableReplicas: int(d.Status.UnavailableReplicas),
		Type:                status.ParseContainerType(d.Labels[LabelType]),
	}
	if d.Spec.Replicas != nil {
		ds.Replicas = int(*d.Spec.Replicas)
	}
	if containers := d.Spec.Template.Spec.Containers; len(containers) > 0 {
		ds.Image = strings.TrimPrefix(containers[0].Image, openShiftRegistry)
	}
	return ds
}

func serviceStatus(svc *corev1.Service, cluster, env string) status.ServiceStatus {
	ss := status.ServiceStatus{
		ProjectID: svc.Name,
		Namespace: svc.Namespace,
		Env:       env,
		Cluster:   cluster,
		ClusterIP: svc.Spec.ClusterIP,
		Type:      string(svc.Spec.Type),
	}
	if len(svc.Spec.Ports) > 0 {
		ss.Port = int(svc.Spec.Ports[0].Port)
		ss.TargetPort = svc.Spec.Ports[0].TargetPort.IntValue()
	}
	return ss
}
