package containerizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/rest"
	toolscache "k8s.io/client-go/tools/cache"

	"karavan/internal/status"
)

func testDeployment(name string) *appsv1.Deployment {
	replicas := int32(3)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "karavan",
			Labels:    map[string]string{LabelType: "packaged"},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: name, Image: openShiftRegistry + "karavan/" + name + ":1.0"}},
				},
			},
		},
		Status: appsv1.DeploymentStatus{ReadyReplicas: 2, UnavailableReplicas: 1},
	}
}

func testService(name string) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "karavan"},
		Spec: corev1.ServiceSpec{
			Type:      corev1.ServiceTypeClusterIP,
			ClusterIP: "10.96.0.12",
			Ports:     []corev1.ServicePort{{Port: 80, TargetPort: intstr.FromInt32(8080)}},
		},
	}
}

func TestDeploymentStatus(t *testing.T) {
	ds := deploymentStatus(testDeployment("orders"), "api.example:6443", "dev")

	assert.Equal(t, status.DeploymentStatus{
		ProjectID:           "orders",
		Namespace:           "karavan",
		Env:                 "dev",
		Cluster:             "api.example:6443",
		Image:               "karavan/orders:1.0",
		Replicas:            3,
		ReadyReplicas:       2,
		UnavailableReplicas: 1,
		Type:                status.TypePackaged,
	}, ds)

	bare := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "bare"}}
	ds = deploymentStatus(bare, "", "dev")
	assert.Zero(t, ds.Replicas)
	assert.Empty(t, ds.Image)
	assert.Equal(t, status.TypeUnknown, ds.Type)
}

func TestServiceStatus(t *testing.T) {
	ss := serviceStatus(testService("orders"), "api.example:6443", "dev")

	assert.Equal(t, status.ServiceStatus{
		ProjectID:  "orders",
		Namespace:  "karavan",
		Env:        "dev",
		Cluster:    "api.example:6443",
		Port:       80,
		TargetPort: 8080,
		ClusterIP:  "10.96.0.12",
		Type:       "ClusterIP",
	}, ss)
}

func TestWorkloadEventHandlers(t *testing.T) {
	var got []WorkloadSignal
	record := func(s WorkloadSignal) { got = append(got, s) }

	deployments := deploymentEventHandler("c1", "dev", record)
	services := serviceEventHandler("c1", "dev", record)

	d := testDeployment("orders")
	deployments.OnAdd(d, false)
	deployments.OnUpdate(d, d)
	deployments.OnDelete(toolscache.DeletedFinalStateUnknown{Key: "karavan/orders", Obj: d})
	deployments.OnAdd(testService("wrong-kind"), false)

	svc := testService("orders")
	services.OnAdd(svc, false)
	services.OnDelete(svc)

	require.Len(t, got, 5)
	assert.Equal(t, SignalCreated, got[0].Action)
	assert.Equal(t, 3, got[0].Deployment.Replicas)
	assert.Equal(t, SignalUpdated, got[1].Action)
	assert.Equal(t, SignalDeleted, got[2].Action)
	assert.Equal(t, status.DeploymentStatus{ProjectID: "orders", Namespace: "karavan", Env: "dev", Cluster: "c1"}, *got[2].Deployment)

	assert.Nil(t, got[3].Deployment)
	assert.Equal(t, 80, got[3].Service.Port)
	assert.Equal(t, SignalDeleted, got[4].Action)
	assert.Equal(t, "orders:karavan:dev", got[4].Service.Key())
}

func TestKubernetesRuntime_Cluster(t *testing.T) {
	rt := newTestKubernetesRuntime(t)
	assert.Empty(t, rt.cluster())

	rt.restConfig = &rest.Config{Host: "https://api.example:6443"}
	assert.Equal(t, "api.example:6443", rt.cluster())
}

func TestKubernetesRuntime_WatchWorkloadsRequiresCluster(t *testing.T) {
	err := newTestKubernetesRuntime(t).WatchWorkloads(context.Background(), "dev", func(WorkloadSignal) {})
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}
