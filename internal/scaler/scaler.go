package scaler

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/systmms/drops/internal/logging"
)

// CapacityPhase describes where a reservation stands.
type CapacityPhase string

const (
	PhasePending CapacityPhase = "Pending"
	PhaseReady   CapacityPhase = "Ready"
)

// CapacityStatus reports the state of a capacity reservation.
type CapacityStatus struct {
	Phase         CapacityPhase
	ReadyReplicas int32
	WantReplicas  int32
}

// ComputeScaler pre-warms compute in the recovery environment before any
// workload is promoted onto it.
type ComputeScaler interface {
	// EnsureCapacity reserves room for n replicas. Idempotent: calling it
	// again with the same n is a no-op.
	EnsureCapacity(ctx context.Context, pair string, n int32) error

	// Status reports whether the reservation is fully schedulable yet.
	Status(ctx context.Context, pair string) (CapacityStatus, error)

	// Release frees the reservation.
	Release(ctx context.Context, pair string) error
}

// KubernetesScaler reserves capacity by running a low-priority placeholder
// deployment sized like the real workload. Once the placeholder pods are all
// running, the cluster demonstrably has room for the promoted service.
type KubernetesScaler struct {
	client    kubernetes.Interface
	namespace string
	logger    *logging.Logger

	// CPURequest and MemoryRequest size each placeholder pod.
	CPURequest    string
	MemoryRequest string
}

// NewKubernetesScaler creates a scaler against an existing clientset.
func NewKubernetesScaler(client kubernetes.Interface, namespace string, logger *logging.Logger) *KubernetesScaler {
	return &KubernetesScaler{
		client:        client,
		namespace:     namespace,
		logger:        logger,
		CPURequest:    "500m",
		MemoryRequest: "512Mi",
	}
}

// NewClientset builds a clientset from a kubeconfig path, falling back to
// the default loading rules when the path is empty.
func NewClientset(kubeconfigPath string) (kubernetes.Interface, error) {
	if kubeconfigPath == "" {
		kubeconfigPath = clientcmd.RecommendedHomeFile
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return clientset, nil
}

func reservationName(pair string) string {
	return fmt.Sprintf("drops-capacity-%s", pair)
}

// EnsureCapacity creates or resizes the placeholder deployment for a pair.
func (s *KubernetesScaler) EnsureCapacity(ctx context.Context, pair string, n int32) error {
	name := reservationName(pair)
	deployments := s.client.AppsV1().Deployments(s.namespace)

	existing, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		if existing.Spec.Replicas != nil && *existing.Spec.Replicas == n {
			return nil
		}
		existing.Spec.Replicas = &n
		if _, err := deployments.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
			return fmt.Errorf("resize capacity reservation %s: %w", name, err)
		}
		if s.logger != nil {
			s.logger.Info("resized capacity reservation %s to %d replicas", name, n)
		}
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return fmt.Errorf("get capacity reservation %s: %w", name, err)
	}

	reservation := s.reservation(pair, n)
	if _, err := deployments.Create(ctx, reservation, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("create capacity reservation %s: %w", name, err)
	}
	if s.logger != nil {
		s.logger.Info("created capacity reservation %s for %d replicas", name, n)
	}
	return nil
}

// Status reports whether every placeholder pod is running.
func (s *KubernetesScaler) Status(ctx context.Context, pair string) (CapacityStatus, error) {
	name := reservationName(pair)
	deployment, err := s.client.AppsV1().Deployments(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return CapacityStatus{Phase: PhasePending}, nil
		}
		return CapacityStatus{}, fmt.Errorf("get capacity reservation %s: %w", name, err)
	}

	want := int32(0)
	if deployment.Spec.Replicas != nil {
		want = *deployment.Spec.Replicas
	}
	status := CapacityStatus{
		Phase:         PhasePending,
		ReadyReplicas: deployment.Status.ReadyReplicas,
		WantReplicas:  want,
	}
	if want > 0 && deployment.Status.ReadyReplicas >= want {
		status.Phase = PhaseReady
	}
	return status, nil
}

// Release deletes the placeholder deployment. Missing reservations are fine.
func (s *KubernetesScaler) Release(ctx context.Context, pair string) error {
	name := reservationName(pair)
	err := s.client.AppsV1().Deployments(s.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete capacity reservation %s: %w", name, err)
	}
	if s.logger != nil && err == nil {
		s.logger.Info("released capacity reservation %s", name)
	}
	return nil
}

// WaitReady polls the reservation until it is fully schedulable or the
// context expires.
func (s *KubernetesScaler) WaitReady(ctx context.Context, pair string, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := s.Status(ctx, pair)
		if err != nil {
			return err
		}
		if status.Phase == PhaseReady {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("capacity reservation for %s not ready (%d/%d): %w",
				pair, status.ReadyReplicas, status.WantReplicas, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *KubernetesScaler) reservation(pair string, n int32) *appsv1.Deployment {
	labels := map[string]string{
		"app.kubernetes.io/managed-by": "drops",
		"drops.systmms.com/pair":       pair,
		"drops.systmms.com/role":       "capacity-reservation",
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      reservationName(pair),
			Namespace: s.namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &n,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "reserve",
							Image: "registry.k8s.io/pause:3.9",
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse(s.CPURequest),
									corev1.ResourceMemory: resource.MustParse(s.MemoryRequest),
								},
							},
						},
					},
				},
			},
		},
	}
}
