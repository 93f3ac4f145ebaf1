package panel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Tayen15/KZT-sub000/pkg/control"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/providers"
)

// PowerAdapter sends power signals. It implements control.RemoteActionAdapter.
type PowerAdapter struct {
	client *providers.Client
}

// NewPowerAdapter creates a PowerAdapter.
func NewPowerAdapter(client *providers.Client) *PowerAdapter {
	return &PowerAdapter{client: client}
}

var _ control.RemoteActionAdapter = (*PowerAdapter)(nil)

// Invoke posts the power signal for action. The panel answers 204 once the
// signal is accepted; the state change shows up on a later fetch.
func (a *PowerAdapter) Invoke(ctx context.Context, action control.ActionName, target monitor.MonitorTarget) (control.ActionOutcome, error) {
	ep, err := resolve(target)
	if err != nil {
		return control.ActionOutcome{}, err
	}
	body := map[string]string{"signal": string(action)}
	code, err := a.client.Do(ctx, http.MethodPost, ep.url("/power"), ep.headers(), body, nil)
	if err != nil {
		return control.ActionOutcome{Message: fmt.Sprintf("panel refused %s", action)}, err
	}
	if code != http.StatusNoContent && code != http.StatusOK {
		return control.ActionOutcome{}, fmt.Errorf("unexpected panel response %d", code)
	}
	return control.ActionOutcome{Success: true, Message: fmt.Sprintf("%s signal accepted", action)}, nil
}
