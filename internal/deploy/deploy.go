package deploy

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/systmms/drops/internal/logging"
)

// Variant distinguishes the deployment created during failover.
type Variant string

const (
	// VariantCanary is the small probe deployment validated before cutover.
	VariantCanary Variant = "canary"

	// VariantStable is the full-size deployment that serves traffic after
	// the run completes.
	VariantStable Variant = "stable"
)

// Spec describes the workload promoted into the recovery environment.
type Spec struct {
	Service   string
	Image     string
	Port      int32
	PairName  string
	ExtraEnv  map[string]string
}

// WorkloadStatus reports a deployment's readiness.
type WorkloadStatus struct {
	Exists        bool
	Replicas      int32
	ReadyReplicas int32
}

// Ready reports whether every desired replica is serving.
func (s WorkloadStatus) Ready() bool {
	return s.Exists && s.Replicas > 0 && s.ReadyReplicas >= s.Replicas
}

// Manager creates, resizes, and removes the recovery-side deployments.
type Manager struct {
	client    kubernetes.Interface
	namespace string
	logger    *logging.Logger
}

// NewManager creates a deployment manager for the recovery cluster.
func NewManager(client kubernetes.Interface, namespace string, logger *logging.Logger) *Manager {
	return &Manager{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

func workloadName(service string, variant Variant) string {
	return fmt.Sprintf("%s-%s", service, variant)
}

// Deploy creates the named variant with the given replica count, or resizes
// it when it already exists.
func (m *Manager) Deploy(ctx context.Context, spec Spec, variant Variant, replicas int32) error {
	name := workloadName(spec.Service, variant)
	deployments := m.client.AppsV1().Deployments(m.namespace)

	existing, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		existing.Spec.Replicas = &replicas
		if _, err := deployments.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("resize %s: %w", name, err)
		}
		if m.logger != nil {
			m.logger.Info("resized %s to %d replicas", name, replicas)
		}
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("get %s: %w", name, err)
	}

	deployment := m.render(spec, variant, replicas)
	if _, err := deployments.Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("create %s: %w", name, err)
	}
	if m.logger != nil {
		m.logger.Info("deployed %s with %d replicas", name, replicas)
	}
	return nil
}

// SetReplicas resizes an existing variant. The variant must already exist.
func (m *Manager) SetReplicas(ctx context.Context, service string, variant Variant, replicas int32) error {
	name := workloadName(service, variant)
	deployments := m.client.AppsV1().Deployments(m.namespace)

	deployment, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get %s: %w", name, err)
	}
	deployment.Spec.Replicas = &replicas
	if _, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("resize %s: %w", name, err)
	}
	return nil
}

// Status reports the readiness of a variant.
func (m *Manager) Status(ctx context.Context, service string, variant Variant) (WorkloadStatus, error) {
	name := workloadName(service, variant)
	deployment, err := m.client.AppsV1().Deployments(m.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return WorkloadStatus{}, nil
		}
		return WorkloadStatus{}, fmt.Errorf("get %s: %w", name, err)
	}

	status := WorkloadStatus{
		Exists:        true,
		ReadyReplicas: deployment.Status.ReadyReplicas,
	}
	if deployment.Spec.Replicas != nil {
		status.Replicas = *deployment.Spec.Replicas
	}
	return status, nil
}

// Remove deletes a variant. Missing deployments are fine.
func (m *Manager) Remove(ctx context.Context, service string, variant Variant) error {
	name := workloadName(service, variant)
	err := m.client.AppsV1().Deployments(m.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if m.logger != nil && err == nil {
		m.logger.Info("removed %s", name)
	}
	return nil
}

// WaitReady polls a variant until all replicas serve or the context expires.
func (m *Manager) WaitReady(ctx context.Context, service string, variant Variant, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := m.Status(ctx, service, variant)
		if err != nil {
			return err
		}
		if status.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready (%d/%d): %w",
				workloadName(service, variant), status.ReadyReplicas, status.Replicas, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *Manager) render(spec Spec, variant Variant, replicas int32) *appsv1.Deployment {
	name := workloadName(spec.Service, variant)
	labels := map[string]string{
		"app.kubernetes.io/name":       spec.Service,
		"app.kubernetes.io/managed-by": "drops",
		"drops.systmms.com/pair":       spec.PairName,
		"drops.systmms.com/variant":    string(variant),
	}

	env := make([]corev1.EnvVar, 0, len(spec.ExtraEnv))
	for key, value := range spec.ExtraEnv {
		env = append(env, corev1.EnvVar{Name: key, Value: value})
	}

	container := corev1.Container{
		Name:  spec.Service,
		Image: spec.Image,
		Env:   env,
	}
	if spec.Port > 0 {
		container.Ports = []corev1.ContainerPort{{ContainerPort: spec.Port}}
		container.ReadinessProbe = &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: "/healthz",
					Port: intstr.FromInt32(spec.Port),
				},
			},
			PeriodSeconds: 5,
		}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: m.namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
		},
	}
}
