package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ocx/opscore/internal/notify/resilience"
)

// HTTPPayoutGateway sends a payout disbursement request to an external
// payment rail over HTTP, behind the same circuit breaker notify/webhook
// uses for outbound delivery — a flapping payment provider degrades to
// fast-failing payouts (refunded back to payable_balance by the caller)
// rather than piling up blocked goroutines.
type HTTPPayoutGateway struct {
	Endpoint string
	Client   *http.Client
	Breaker  *resilience.Breaker
}

type payoutGatewayRequest struct {
	PayoutID string `json:"payoutId"`
	UserID   string `json:"userId"`
	Amount   string `json:"amount"`
}

type payoutGatewayResponse struct {
	GatewayReference string `json:"gatewayReference"`
}

// Send implements PayoutGateway.
func (g *HTTPPayoutGateway) Send(ctx context.Context, payout Payout) (string, error) {
	var reference string
	err := g.Breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(payoutGatewayRequest{
			PayoutID: payout.ID, UserID: payout.UserID, Amount: payout.Amount.String(),
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("finance: payout gateway responded %d", resp.StatusCode)
		}

		var out payoutGatewayResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		reference = out.GatewayReference
		return nil
	})
	return reference, err
}
