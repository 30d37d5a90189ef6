package containerizer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	toolscache "k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/remotecommand"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"karavan/internal/status"
	"karavan/pkg/logging"
)

const kubernetesSubsystem = "KubernetesRuntime"

// informerResync matches the resync period of the pod informers.
const informerResync = 30 * time.Second

var podMetricsGVK = schema.GroupVersionKind{
	Group:   "metrics.k8s.io",
	Version: "v1beta1",
	Kind:    "PodMetrics",
}

// KubernetesRuntime implements Runtime on a Kubernetes cluster. Containers
// map to single-container pods in one namespace.
type KubernetesRuntime struct {
	client     client.Client
	clientset  kubernetes.Interface
	restConfig *rest.Config
	scheme     *runtime.Scheme

	namespace   string
	podTemplate *template.Template
}

// NewKubernetesRuntime creates a runtime for namespace using restConfig.
//
// Args:
//   - restConfig: Kubernetes REST configuration for API access
//   - namespace: namespace that holds the karavan pods
//   - templatePath: optional pod template file; empty uses the built-in one
func NewKubernetesRuntime(restConfig *rest.Config, namespace, templatePath string) (*KubernetesRuntime, error) {
	scheme := newScheme()

	c, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	tmpl, err := loadPodTemplate(templatePath)
	if err != nil {
		return nil, err
	}

	rt := newKubernetesRuntime(c, clientset, namespace, tmpl)
	rt.restConfig = restConfig
	rt.scheme = scheme
	return rt, nil
}

func newKubernetesRuntime(c client.Client, clientset kubernetes.Interface, namespace string, tmpl *template.Template) *KubernetesRuntime {
	return &KubernetesRuntime{
		client:      c,
		clientset:   clientset,
		scheme:      newScheme(),
		namespace:   namespace,
		podTemplate: tmpl,
	}
}

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	return scheme
}

func (k *KubernetesRuntime) Type() RuntimeType {
	return RuntimeTypeKubernetes
}

func (k *KubernetesRuntime) wrap(op, name string, err error) error {
	if apierrors.IsNotFound(err) {
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return newRuntimeError(RuntimeTypeKubernetes, op, name, err)
}

func (k *KubernetesRuntime) ListAll(ctx context.Context, selector string) ([]Object, error) {
	sel, err := labels.Parse(selector)
	if err != nil {
		return nil, k.wrap("list", "", fmt.Errorf("invalid selector %q: %w", selector, err))
	}

	var pods corev1.PodList
	if err := k.client.List(ctx, &pods, client.InNamespace(k.namespace), client.MatchingLabelsSelector{Selector: sel}); err != nil {
		return nil, k.wrap("list", "", err)
	}

	result := make([]Object, 0, len(pods.Items))
	for i := range pods.Items {
		result = append(result, objectFromPod(&pods.Items[i]))
	}
	return result, nil
}

func (k *KubernetesRuntime) FindByName(ctx context.Context, name string) (Object, bool, error) {
	pod, err := k.getPod(ctx, name)
	if apierrors.IsNotFound(err) {
		return Object{}, false, nil
	}
	if err != nil {
		return Object{}, false, k.wrap("find", name, err)
	}
	return objectFromPod(pod), true, nil
}

func (k *KubernetesRuntime) getPod(ctx context.Context, name string) (*corev1.Pod, error) {
	pod := &corev1.Pod{}
	if err := k.client.Get(ctx, types.NamespacedName{Namespace: k.namespace, Name: name}, pod); err != nil {
		return nil, err
	}
	return pod, nil
}

// resolvePod accepts either a pod name or a pod UID. UIDs are only looked
// up among managed pods.
func (k *KubernetesRuntime) resolvePod(ctx context.Context, op, id string) (*corev1.Pod, error) {
	pod, err := k.getPod(ctx, id)
	if err == nil {
		return pod, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, k.wrap(op, id, err)
	}

	var pods corev1.PodList
	if err := k.client.List(ctx, &pods, client.InNamespace(k.namespace), client.HasLabels{ManagedSelector}); err != nil {
		return nil, k.wrap(op, id, err)
	}
	for i := range pods.Items {
		if string(pods.Items[i].UID) == id {
			return &pods.Items[i], nil
		}
	}
	return nil, k.wrap(op, id, ErrNotFound)
}

func (k *KubernetesRuntime) Create(ctx context.Context, cfg ContainerConfig) (Object, error) {
	pod, err := renderPod(k.podTemplate, cfg, k.namespace)
	if err != nil {
		return Object{}, k.wrap("create", cfg.Name, err)
	}
	if err := k.client.Create(ctx, pod); err != nil {
		return Object{}, k.wrap("create", cfg.Name, err)
	}
	logging.Info(kubernetesSubsystem, "Created pod %s/%s", k.namespace, cfg.Name)
	return objectFromPod(pod), nil
}

// Start is a no-op for an existing pod; pods run as soon as they are created.
func (k *KubernetesRuntime) Start(ctx context.Context, name string) error {
	if _, err := k.getPod(ctx, name); err != nil {
		return k.wrap("start", name, err)
	}
	return nil
}

func (k *KubernetesRuntime) Pause(_ context.Context, name string) error {
	return k.wrap("pause", name, errors.ErrUnsupported)
}

// Stop deletes the pod; a stopped pod cannot be restarted in place.
func (k *KubernetesRuntime) Stop(ctx context.Context, name string) error {
	return k.deletePod(ctx, "stop", name)
}

func (k *KubernetesRuntime) Delete(ctx context.Context, name string) error {
	return k.deletePod(ctx, "delete", name)
}

func (k *KubernetesRuntime) deletePod(ctx context.Context, op, name string) error {
	pod := &corev1.Pod{}
	pod.Name = name
	pod.Namespace = k.namespace
	err := k.client.Delete(ctx, pod, client.GracePeriodSeconds(1))
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return k.wrap(op, name, err)
	}
	logging.Info(kubernetesSubsystem, "Deleted pod %s/%s", k.namespace, name)
	return nil
}

// Stats reads the pod's metrics.k8s.io sample.
func (k *KubernetesRuntime) Stats(ctx context.Context, id string) (Usage, error) {
	pod, err := k.resolvePod(ctx, "stats", id)
	if err != nil {
		return Usage{}, err
	}

	metrics := &unstructured.Unstructured{}
	metrics.SetGroupVersionKind(podMetricsGVK)
	if err := k.client.Get(ctx, types.NamespacedName{Namespace: pod.Namespace, Name: pod.Name}, metrics); err != nil {
		return Usage{}, k.wrap("stats", pod.Name, err)
	}

	usage, err := usageFromPodMetrics(metrics)
	if err != nil {
		return Usage{}, k.wrap("stats", pod.Name, err)
	}
	for _, c := range pod.Spec.Containers {
		if limit, ok := c.Resources.Limits[corev1.ResourceMemory]; ok {
			usage.MemoryLimit += uint64(limit.Value())
		}
	}
	return usage, nil
}

func usageFromPodMetrics(metrics *unstructured.Unstructured) (Usage, error) {
	containers, _, err := unstructured.NestedSlice(metrics.Object, "containers")
	if err != nil {
		return Usage{}, fmt.Errorf("unexpected pod metrics shape: %w", err)
	}

	var u Usage
	for _, raw := range containers {
		c, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		cpu, _, _ := unstructured.NestedString(c, "usage", "cpu")
		mem, _, _ := unstructured.NestedString(c, "usage", "memory")
		if cpu != "" {
			q, err := resource.ParseQuantity(cpu)
			if err != nil {
				return Usage{}, fmt.Errorf("invalid cpu quantity %q: %w", cpu, err)
			}
			u.CPUMillicores += q.MilliValue()
		}
		if mem != "" {
			q, err := resource.ParseQuantity(mem)
			if err != nil {
				return Usage{}, fmt.Errorf("invalid memory quantity %q: %w", mem, err)
			}
			u.MemoryUsage += uint64(q.Value())
		}
	}
	return u, nil
}

// CopyFiles streams a tar archive into `tar -x` running inside the pod.
// A pod that is not running yet yields ErrNotRunning.
func (k *KubernetesRuntime) CopyFiles(ctx context.Context, id, dir string, files map[string]string) error {
	pod, err := k.resolvePod(ctx, "copy", id)
	if err != nil {
		return err
	}
	if pod.Status.Phase != corev1.PodRunning {
		return k.wrap("copy", pod.Name, ErrNotRunning)
	}
	archive, err := tarFiles(files, time.Now())
	if err != nil {
		return k.wrap("copy", pod.Name, err)
	}
	var stderr bytes.Buffer
	if err := k.exec(ctx, pod, []string{"tar", "-xmf", "-", "-C", dir}, archive, io.Discard, &stderr); err != nil {
		return k.wrap("copy", pod.Name, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return nil
}

func (k *KubernetesRuntime) ExecCommand(ctx context.Context, id string, cmd []string) (string, error) {
	pod, err := k.resolvePod(ctx, "exec", id)
	if err != nil {
		return "", err
	}
	if pod.Status.Phase != corev1.PodRunning {
		return "", k.wrap("exec", pod.Name, ErrNotRunning)
	}
	var out bytes.Buffer
	if err := k.exec(ctx, pod, cmd, nil, &out, &out); err != nil {
		return out.String(), k.wrap("exec", pod.Name, err)
	}
	return out.String(), nil
}

func (k *KubernetesRuntime) exec(ctx context.Context, pod *corev1.Pod, cmd []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if k.restConfig == nil || k.clientset == nil {
		return errors.New("exec requires a cluster connection")
	}
	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod.Name).
		Namespace(pod.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: pod.Spec.Containers[0].Name,
			Command:   cmd,
			Stdin:     stdin != nil,
			Stdout:    true,
			Stderr:    true,
		}, clientgoscheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return err
	}
	return executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	})
}

func (k *KubernetesRuntime) StreamLogs(ctx context.Context, id string, fn func(line string)) error {
	pod, err := k.resolvePod(ctx, "logs", id)
	if err != nil {
		return err
	}
	if k.clientset == nil {
		return k.wrap("logs", pod.Name, errors.New("log streaming requires a cluster connection"))
	}
	tail := int64(100)
	stream, err := k.clientset.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Follow:    true,
		TailLines: &tail,
	}).Stream(ctx)
	if err != nil {
		return k.wrap("logs", pod.Name, err)
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return k.wrap("logs", pod.Name, err)
	}
	return nil
}

// Watch runs a pod informer restricted to managed pods and forwards its
// add, update and delete notifications until ctx is cancelled.
func (k *KubernetesRuntime) Watch(ctx context.Context, fn func(Signal)) error {
	sel, err := labels.Parse(ManagedSelector)
	if err != nil {
		return k.wrap("watch", "", err)
	}
	return k.runInformers(ctx, "watch", "pods", sel, informerHandler{
		object:  &corev1.Pod{},
		handler: podEventHandler(fn),
	})
}

// informerHandler binds an event handler to the informer of one kind.
type informerHandler struct {
	object  client.Object
	handler toolscache.ResourceEventHandler
}

// runInformers starts an informer cache over the namespace, registers the
// handlers and blocks until ctx is done or the cache fails. A nil selector
// watches every object of the registered kinds.
func (k *KubernetesRuntime) runInformers(ctx context.Context, op, what string, sel labels.Selector, handlers ...informerHandler) error {
	if k.restConfig == nil {
		return k.wrap(op, "", errors.New("watching requires a cluster connection"))
	}

	resync := informerResync
	opts := cache.Options{
		Scheme:            k.scheme,
		SyncPeriod:        &resync,
		DefaultNamespaces: map[string]cache.Config{k.namespace: {}},
	}
	if sel != nil {
		opts.DefaultLabelSelector = sel
	}
	c, err := cache.New(k.restConfig, opts)
	if err != nil {
		return k.wrap(op, "", fmt.Errorf("failed to create cache: %w", err))
	}

	for _, h := range handlers {
		h := h
		informer, err := c.GetInformer(ctx, h.object)
		if err != nil {
			return k.wrap(op, "", fmt.Errorf("failed to get %T informer: %w", h.object, err))
		}
		registration, err := informer.AddEventHandler(h.handler)
		if err != nil {
			return k.wrap(op, "", fmt.Errorf("failed to add %T event handler: %w", h.object, err))
		}
		defer func() {
			if err := informer.RemoveEventHandler(registration); err != nil {
				logging.Debug(kubernetesSubsystem, "Failed to remove %T event handler: %v", h.object, err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(ctx)
	}()
	if !c.WaitForCacheSync(ctx) {
		if ctx.Err() != nil {
			return nil
		}
		return k.wrap(op, "", fmt.Errorf("failed to sync %s cache", what))
	}
	logging.Info(kubernetesSubsystem, "Watching %s in namespace %s", what, k.namespace)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return k.wrap(op, "", err)
	}
}

func podEventHandler(fn func(Signal)) toolscache.ResourceEventHandlerFuncs {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			if pod, ok := obj.(*corev1.Pod); ok {
				fn(Signal{Action: SignalCreated, Object: objectFromPod(pod)})
			}
		},
		UpdateFunc: func(_, newObj interface{}) {
			if pod, ok := newObj.(*corev1.Pod); ok {
				fn(Signal{Action: SignalUpdated, Object: objectFromPod(pod)})
			}
		},
		DeleteFunc: func(obj interface{}) {
			pod, ok := obj.(*corev1.Pod)
			if !ok {
				tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown)
				if !ok {
					return
				}
				if pod, ok = tombstone.Obj.(*corev1.Pod); !ok {
					return
				}
			}
			fn(Signal{Action: SignalDeleted, Object: objectFromPod(pod)})
		},
	}
}

func objectFromPod(pod *corev1.Pod) Object {
	obj := Object{
		ID:        string(pod.UID),
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Labels:    pod.Labels,
		Phase:     string(pod.Status.Phase),
		IP:        pod.Status.PodIP,
		State:     podState(pod),
		Created:   pod.CreationTimestamp.Time,
	}
	if len(pod.Spec.Containers) > 0 {
		c := pod.Spec.Containers[0]
		obj.Image = c.Image
		for _, p := range c.Ports {
			obj.Ports = append(obj.Ports, status.Port{
				PrivatePort: int(p.ContainerPort),
				PublicPort:  int(p.HostPort),
				Type:        strings.ToLower(string(p.Protocol)),
			})
		}
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if t := cs.State.Terminated; t != nil && t.FinishedAt.After(obj.Finished) {
			obj.Finished = t.FinishedAt.Time
		}
	}
	return obj
}

func podState(pod *corev1.Pod) status.State {
	if pod.DeletionTimestamp != nil {
		return status.StateRemoving
	}
	switch pod.Status.Phase {
	case corev1.PodPending:
		return status.StateCreated
	case corev1.PodRunning:
		return status.StateRunning
	case corev1.PodSucceeded:
		return status.StateExited
	case corev1.PodFailed:
		return status.StateDead
	default:
		return status.State(strings.ToLower(string(pod.Status.Phase)))
	}
}
