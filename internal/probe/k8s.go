package probe

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Kubernetes resource kinds a K8sProbe understands
const (
	KindDeployment  = "deployment"
	KindStatefulSet = "statefulset"
	KindPod         = "pod"
	KindPods        = "pods"
)

const podPendingScore = 0.3

// K8sProbe scores a service from the readiness of its workload. Replicated
// workloads score the ready/desired ratio; pods score their ready containers.
// Kind "pods" averages every pod matching a label selector.
type K8sProbe struct {
	name          string
	service       string
	clientset     kubernetes.Interface
	namespace     string
	kind          string
	resource      string
	selector      string
	expectedPhase corev1.PodPhase
}

// K8sProbeConfig holds construction parameters for K8sProbe
type K8sProbeConfig struct {
	Name          string
	Service       string
	Clientset     kubernetes.Interface
	Namespace     string
	ResourceKind  string
	ResourceName  string
	LabelSelector string
	ExpectedValue string
}

// NewK8sProbe creates a Kubernetes resource probe. The resource name and the
// label selector default to the service name.
func NewK8sProbe(cfg K8sProbeConfig) *K8sProbe {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.ResourceKind == "" {
		cfg.ResourceKind = KindDeployment
	}
	if cfg.ResourceName == "" {
		cfg.ResourceName = cfg.Service
	}
	if cfg.LabelSelector == "" {
		cfg.LabelSelector = "app=" + cfg.Service
	}
	phase := corev1.PodPhase(cfg.ExpectedValue)
	if phase == "" {
		phase = corev1.PodRunning
	}
	return &K8sProbe{
		name:          cfg.Name,
		service:       cfg.Service,
		clientset:     cfg.Clientset,
		namespace:     cfg.Namespace,
		kind:          cfg.ResourceKind,
		resource:      cfg.ResourceName,
		selector:      cfg.LabelSelector,
		expectedPhase: phase,
	}
}

func (p *K8sProbe) Name() string    { return p.name }
func (p *K8sProbe) Type() string    { return "k8s" }
func (p *K8sProbe) Service() string { return p.service }

func (p *K8sProbe) Execute(ctx context.Context) (*ProbeResult, error) {
	if p.clientset == nil {
		return nil, fmt.Errorf("k8s probe %s: no kubernetes client configured", p.name)
	}

	var (
		score  float64
		passed bool
		detail map[string]any
		err    error
	)
	switch p.kind {
	case KindDeployment:
		score, passed, detail, err = p.deployment(ctx)
	case KindStatefulSet:
		score, passed, detail, err = p.statefulSet(ctx)
	case KindPod:
		score, passed, detail, err = p.pod(ctx)
	case KindPods:
		score, passed, detail, err = p.pods(ctx)
	default:
		return nil, fmt.Errorf("unsupported resource kind: %s", p.kind)
	}
	if err != nil {
		return nil, err
	}

	detail["kind"] = p.kind
	detail["namespace"] = p.namespace
	return &ProbeResult{
		ProbeName:  p.name,
		ProbeType:  p.Type(),
		Service:    p.service,
		Passed:     passed,
		Score:      score,
		Detail:     detail,
		ExecutedAt: time.Now().UTC(),
	}, nil
}

func (p *K8sProbe) deployment(ctx context.Context) (float64, bool, map[string]any, error) {
	dep, err := p.clientset.AppsV1().Deployments(p.namespace).Get(ctx, p.resource, metav1.GetOptions{})
	if err != nil {
		return 0, false, nil, fmt.Errorf("get deployment %s: %w", p.resource, err)
	}
	score, passed, detail := replicaScore(dep.Spec.Replicas, dep.Status.ReadyReplicas)
	detail["deployment"] = p.resource
	detail["unavailable_replicas"] = dep.Status.UnavailableReplicas
	return score, passed, detail, nil
}

func (p *K8sProbe) statefulSet(ctx context.Context) (float64, bool, map[string]any, error) {
	sts, err := p.clientset.AppsV1().StatefulSets(p.namespace).Get(ctx, p.resource, metav1.GetOptions{})
	if err != nil {
		return 0, false, nil, fmt.Errorf("get statefulset %s: %w", p.resource, err)
	}
	score, passed, detail := replicaScore(sts.Spec.Replicas, sts.Status.ReadyReplicas)
	detail["statefulset"] = p.resource
	return score, passed, detail, nil
}

// replicaScore treats a nil replica count as the API default of one
func replicaScore(desired *int32, ready int32) (float64, bool, map[string]any) {
	want := int32(1)
	if desired != nil {
		want = *desired
	}
	detail := map[string]any{
		"desired_replicas": want,
		"ready_replicas":   ready,
	}
	if want == 0 {
		// Scaled to zero on purpose: nothing serves traffic
		return 0, false, detail
	}
	return clamp(float64(ready) / float64(want)), ready >= want, detail
}

func (p *K8sProbe) pod(ctx context.Context) (float64, bool, map[string]any, error) {
	pod, err := p.clientset.CoreV1().Pods(p.namespace).Get(ctx, p.resource, metav1.GetOptions{})
	if err != nil {
		return 0, false, nil, fmt.Errorf("get pod %s: %w", p.resource, err)
	}
	score, passed := p.podScore(pod)
	return score, passed, map[string]any{
		"pod":            p.resource,
		"phase":          string(pod.Status.Phase),
		"expected_phase": string(p.expectedPhase),
	}, nil
}

func (p *K8sProbe) pods(ctx context.Context) (float64, bool, map[string]any, error) {
	list, err := p.clientset.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{LabelSelector: p.selector})
	if err != nil {
		return 0, false, nil, fmt.Errorf("list pods %s: %w", p.selector, err)
	}
	detail := map[string]any{"selector": p.selector, "pods": len(list.Items)}
	if len(list.Items) == 0 {
		return 0, false, detail, nil
	}

	var total float64
	passed := true
	for i := range list.Items {
		s, ok := p.podScore(&list.Items[i])
		total += s
		passed = passed && ok
	}
	return total / float64(len(list.Items)), passed, detail, nil
}

// podScore credits a running pod by its ready containers. A pod in the
// expected non-running phase (e.g. Succeeded for a job) is healthy.
func (p *K8sProbe) podScore(pod *corev1.Pod) (float64, bool) {
	phase := pod.Status.Phase
	switch {
	case phase == p.expectedPhase && phase != corev1.PodRunning:
		return 1, true
	case phase == corev1.PodRunning && p.expectedPhase == corev1.PodRunning:
		n := len(pod.Status.ContainerStatuses)
		if n == 0 {
			return 1, true
		}
		ready := 0
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Ready {
				ready++
			}
		}
		return float64(ready) / float64(n), ready == n
	case phase == corev1.PodPending:
		return podPendingScore, false
	default:
		return 0, false
	}
}
