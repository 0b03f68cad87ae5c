package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// DefaultNamespace is used when no namespace is configured
const DefaultNamespace = "mailrank"

// Job status values
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Client wraps the Kubernetes client
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// BackfillJobSpec describes one re-backfill run. A zero From/To leaves the window to the
// backfill binary's defaults.
type BackfillJobSpec struct {
	Image string
	From  time.Time
	To    time.Time
}

// NewClient creates a new Kubernetes client
// If namespace is empty, defaults to DefaultNamespace
func NewClient(namespace string) (*Client, error) {
	config, err := getKubeConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return NewClientWithClientset(clientset, namespace), nil
}

// NewClientWithClientset wraps an existing clientset
func NewClientWithClientset(clientset kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Client{
		clientset: clientset,
		namespace: namespace,
	}
}

// getKubeConfig gets the Kubernetes configuration
func getKubeConfig() (*rest.Config, error) {
	// Try in-cluster config first (when running inside Kubernetes)
	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}

	var kubeconfig string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	if envKubeconfig := os.Getenv("KUBECONFIG"); envKubeconfig != "" {
		kubeconfig = envKubeconfig
	}

	config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	return config, nil
}

// NewJobName returns a unique backfill job name
func NewJobName() string {
	return "mailrank-backfill-" + uuid.NewString()[:8]
}

// CreateBackfillJob creates a Kubernetes Job that runs one backfill over spec's window
func (c *Client) CreateBackfillJob(ctx context.Context, jobName string, spec BackfillJobSpec) error {
	labels := map[string]string{
		"app":      "mailrank-backfill",
		"job-type": "backfill",
	}
	jobLabels := map[string]string{"triggered-by": "api"}
	for k, v := range labels {
		jobLabels[k] = v
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: c.namespace,
			Labels:    jobLabels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            int32Ptr(2),
			TTLSecondsAfterFinished: int32Ptr(86400),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       c.buildPodSpec(spec),
			},
		},
	}

	if _, err := c.clientset.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// backfillArgs builds the backfill command line for spec
func backfillArgs(spec BackfillJobSpec) []string {
	args := []string{"/app/bin/backfill"}
	if !spec.From.IsZero() {
		args = append(args, "-from", spec.From.UTC().Format(time.DateOnly))
	}
	if !spec.To.IsZero() {
		args = append(args, "-to", spec.To.UTC().Format(time.DateOnly))
	}
	return args
}

// buildPodSpec builds the pod spec for the backfill job
func (c *Client) buildPodSpec(spec BackfillJobSpec) corev1.PodSpec {
	return corev1.PodSpec{
		RestartPolicy:      corev1.RestartPolicyNever,
		ServiceAccountName: "mailrank-backfill-sa",
		Containers: []corev1.Container{
			{
				Name:    "backfill",
				Image:   spec.Image,
				Command: backfillArgs(spec),
				EnvFrom: []corev1.EnvFromSource{
					{
						ConfigMapRef: &corev1.ConfigMapEnvSource{
							LocalObjectReference: corev1.LocalObjectReference{Name: "mailrank-config"},
						},
					},
				},
				Env: []corev1.EnvVar{
					{
						Name: "DATABASE_URL",
						ValueFrom: &corev1.EnvVarSource{
							SecretKeyRef: &corev1.SecretKeySelector{
								LocalObjectReference: corev1.LocalObjectReference{Name: "mailrank-secrets"},
								Key:                  "database-url",
							},
						},
					},
					{
						Name:  "MODEL_PATH",
						Value: "/models/model.json",
					},
				},
				VolumeMounts: []corev1.VolumeMount{
					{
						Name:      "models",
						MountPath: "/models",
						ReadOnly:  true,
					},
				},
				Resources: corev1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceMemory: resourceQuantity("256Mi"),
						corev1.ResourceCPU:    resourceQuantity("250m"),
					},
					Limits: corev1.ResourceList{
						corev1.ResourceMemory: resourceQuantity("1Gi"),
						corev1.ResourceCPU:    resourceQuantity("2000m"),
					},
				},
			},
		},
		Volumes: []corev1.Volume{
			{
				Name: "models",
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
						ClaimName: "mailrank-models",
						ReadOnly:  true,
					},
				},
			},
		},
	}
}

// GetJobStatus gets the status of a job
func (c *Client) GetJobStatus(ctx context.Context, jobName string) (*batchv1.Job, error) {
	job, err := c.clientset.BatchV1().Jobs(c.namespace).Get(ctx, jobName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// DeleteJob deletes a job
func (c *Client) DeleteJob(ctx context.Context, jobName string) error {
	deletePolicy := metav1.DeletePropagationForeground
	err := c.clientset.BatchV1().Jobs(c.namespace).Delete(ctx, jobName, metav1.DeleteOptions{
		PropagationPolicy: &deletePolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// JobPhase summarizes a job's status counters
func JobPhase(job *batchv1.Job) string {
	switch {
	case job.Status.Active > 0:
		return StatusRunning
	case job.Status.Succeeded > 0:
		return StatusCompleted
	case job.Status.Failed > 0:
		return StatusFailed
	}
	return StatusPending
}

func int32Ptr(i int32) *int32 {
	return &i
}

func resourceQuantity(value string) resource.Quantity {
	qty, err := resource.ParseQuantity(value)
	if err != nil {
		return resource.Quantity{}
	}
	return qty
}
