// Package kubernetes provides a remote.Acquirer that runs the remote
// visualization service in agent-sandbox pods, one SandboxClaim per
// remote attempt.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/plotwise/pkg/debug"
	"github.com/rhuss/plotwise/pkg/remote"
)

var _ remote.Acquirer = (*ClaimAcquirer)(nil)

const pollInterval = 500 * time.Millisecond

// ClaimAcquirer creates a SandboxClaim from a template, waits for the
// Sandbox to report Ready and returns http://<serviceFQDN>:<port>. The
// release function deletes the claim.
type ClaimAcquirer struct {
	client    client.Client
	template  string
	namespace string
	port      int
	timeout   time.Duration
}

// NewClaimAcquirer creates a ClaimAcquirer.
func NewClaimAcquirer(c client.Client, template, namespace string, port int, timeout time.Duration) *ClaimAcquirer {
	if port <= 0 {
		port = 8080
	}
	return &ClaimAcquirer{
		client:    c,
		template:  template,
		namespace: namespace,
		port:      port,
		timeout:   timeout,
	}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Acquire implements remote.Acquirer.
func (a *ClaimAcquirer) Acquire(ctx context.Context) (string, func(), error) {
	name := claimName()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: a.namespace,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": "plotwise"},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{Name: a.template},
		},
	}
	if err := a.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", name, err)
	}
	debug.Log("remote", "created SandboxClaim", "name", name, "namespace", a.namespace, "template", a.template)

	fqdn, err := a.waitForReady(ctx, name)
	if err != nil {
		a.deleteClaim(name)
		return "", nil, err
	}

	url := fmt.Sprintf("http://%s:%d", fqdn, a.port)
	debug.Log("remote", "remote instance ready", "name", name, "url", url)
	return url, func() { a.deleteClaim(name) }, nil
}

func (a *ClaimAcquirer) waitForReady(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	key := types.NamespacedName{Name: name, Namespace: a.namespace}
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for Sandbox %q (limit %s): %w", name, a.timeout, ctx.Err())
		case <-ticker.C:
			sb := &sandboxv1alpha1.Sandbox{}
			if err := a.client.Get(ctx, key, sb); err != nil {
				// The controller may not have created the Sandbox yet.
				continue
			}
			if isReady(sb) && sb.Status.ServiceFQDN != "" {
				return sb.Status.ServiceFQDN, nil
			}
		}
	}
}

func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sb.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// deleteClaim runs on release and cleanup paths, so it uses its own
// context and only logs failures.
func (a *ClaimAcquirer) deleteClaim(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.namespace},
	}
	if err := a.client.Delete(ctx, claim); err != nil {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", a.namespace, "error", err.Error())
		return
	}
	debug.Log("remote", "deleted SandboxClaim", "name", name)
}

// claimName is replaceable in tests.
var claimName = func() string {
	return "plotwise-remote-" + uuid.NewString()[:13]
}
