package bdd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cucumber/godog"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

const (
	pathCreateMandate = "/api/v1/mandate/create"
	pathRevealToken   = "/api/v1/wallet/request_card_reveal_token"
	pathRevealCard    = "/api/v1/wallet/token"
)

func (w *PurchaseWorld) registerPurchaseSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the tokenization service is running$`, w.startTokenization)
	sc.Step(`^the checkout service is running$`, w.startCheckout)
	sc.Step(`^the tokenization service returns an empty mandate id$`, w.emptyMandateID)

	sc.Step(`^user "([^"]+)" submits a purchase at "([^"]+)" for:$`, w.submitPurchase)
	sc.Step(`^I query purchase "([^"]+)"$`, w.queryPurchase)
	sc.Step(`^I wait for the purchase to finish$`, w.waitForPurchase)

	sc.Step(`^the response status is (\d+)$`, w.assertResponseStatus)
	sc.Step(`^the receipt status is "([^"]+)" with a purchase id$`, w.assertReceipt)
	sc.Step(`^the response error is "([^"]+)"$`, w.assertResponseError)
	sc.Step(`^the response error mentions "([^"]+)"$`, w.assertResponseErrorMentions)
	sc.Step(`^the purchase status is "([^"]+)"$`, w.assertPurchaseStatus)
	sc.Step(`^the purchase went through "([^"]+)"$`, w.assertStatusPath)
	sc.Step(`^the purchase error mentions "([^"]+)"$`, w.assertPurchaseErrorMentions)
	sc.Step(`^the result total amount is "([^"]+)"$`, w.assertResultTotal)
	sc.Step(`^the credential exchange completed$`, w.assertExchangeCompleted)
	sc.Step(`^the tokenization service was called once per stage$`, w.assertOneCallPerStage)
	sc.Step(`^the tokenization service was not asked for a reveal token$`, w.assertNoRevealToken)
	sc.Step(`^the status response never contains the card number$`, w.assertNoCardNumber)
}

func (w *PurchaseWorld) emptyMandateID() error {
	w.tokenSrv.ReturnEmptyMandateID(true)
	return nil
}

func (w *PurchaseWorld) submitPurchase(userID, merchant string, tbl *godog.Table) error {
	items, total, err := itemsFromTable(tbl)
	if err != nil {
		return err
	}
	body := map[string]any{
		"user_id":        userID,
		"store_id":       "store-bdd",
		"merchant_name":  merchant,
		"checkout_url":   "https://shop.example.test/checkout",
		"items":          items,
		"total":          total,
		"human_messages": []string{"please buy these for me"},
		"conversation_context": map[string]any{
			"messages": []any{map[string]any{"role": "user", "content": "buy the items"}},
		},
	}
	if err := w.request(http.MethodPost, "/api/browser-checkout", body); err != nil {
		return err
	}
	if id, ok := w.httpJSON["purchase_id"].(string); ok {
		w.purchaseID = id
	}
	return nil
}

func (w *PurchaseWorld) queryPurchase(id string) error {
	return w.request(http.MethodGet, "/api/purchase-status/"+id, nil)
}

// waitForPurchase blocks on the task handle, then loads the final record
// through the status endpoint.
func (w *PurchaseWorld) waitForPurchase() error {
	if w.purchaseID == "" {
		return fmt.Errorf("no purchase submitted")
	}
	task, ok := w.tracked.task(w.purchaseID)
	if !ok {
		return fmt.Errorf("no task for purchase %s", w.purchaseID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("purchase %s did not finish: %w", w.purchaseID, err)
	}
	return w.queryPurchase(w.purchaseID)
}

func (w *PurchaseWorld) assertResponseStatus(want int) error {
	if w.httpStatus != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, w.httpStatus, string(w.httpBody))
	}
	return nil
}

func (w *PurchaseWorld) assertReceipt(status string) error {
	if got := w.httpJSON["status"]; got != status {
		return fmt.Errorf("expected receipt status %q, got %v", status, got)
	}
	if w.purchaseID == "" {
		return fmt.Errorf("receipt has no purchase_id: %s", string(w.httpBody))
	}
	return nil
}

func (w *PurchaseWorld) assertResponseError(want string) error {
	if got := w.httpJSON["error"]; got != want {
		return fmt.Errorf("expected error %q, got %v", want, got)
	}
	return nil
}

func (w *PurchaseWorld) assertResponseErrorMentions(part string) error {
	got, _ := w.httpJSON["error"].(string)
	if !strings.Contains(got, part) {
		return fmt.Errorf("expected error to mention %q, got %q", part, got)
	}
	return nil
}

func (w *PurchaseWorld) assertPurchaseStatus(want string) error {
	if got := w.httpJSON["status"]; got != want {
		return fmt.Errorf("expected purchase status %q, got %v (%s)", want, got, string(w.httpBody))
	}
	return nil
}

func (w *PurchaseWorld) assertStatusPath(want string) error {
	if got := w.events.path(w.purchaseID); got != want {
		return fmt.Errorf("expected status path %q, got %q", want, got)
	}
	return nil
}

func (w *PurchaseWorld) assertPurchaseErrorMentions(part string) error {
	got, _ := w.httpJSON["error"].(string)
	if !strings.Contains(got, part) {
		return fmt.Errorf("expected purchase error to mention %q, got %q", part, got)
	}
	msg, _ := w.httpJSON["message"].(string)
	if !strings.HasPrefix(msg, "Checkout failed: ") {
		return fmt.Errorf("expected failure message, got %q", msg)
	}
	return nil
}

func (w *PurchaseWorld) result() (map[string]any, error) {
	res, ok := w.httpJSON["result"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("purchase has no result: %s", string(w.httpBody))
	}
	return res, nil
}

func (w *PurchaseWorld) assertResultTotal(want string) error {
	res, err := w.result()
	if err != nil {
		return err
	}
	if got := fmt.Sprint(res["total_amount"]); got != want {
		return fmt.Errorf("expected total_amount %s, got %s", want, got)
	}
	return nil
}

func (w *PurchaseWorld) assertExchangeCompleted() error {
	res, err := w.result()
	if err != nil {
		return err
	}
	if res["credential_exchange_completed"] != true {
		return fmt.Errorf("credential exchange not completed: %v", res)
	}
	if res["success"] != true {
		return fmt.Errorf("result not successful: %v", res)
	}
	return nil
}

func (w *PurchaseWorld) assertOneCallPerStage() error {
	for _, p := range []string{pathCreateMandate, pathRevealToken, pathRevealCard} {
		if n := w.tokenSrv.Calls(p); n != 1 {
			return fmt.Errorf("expected 1 call to %s, got %d", p, n)
		}
	}
	return nil
}

func (w *PurchaseWorld) assertNoRevealToken() error {
	if n := w.tokenSrv.Calls(pathRevealToken); n != 0 {
		return fmt.Errorf("expected no reveal token request, got %d", n)
	}
	if n := w.tokenSrv.Calls(pathRevealCard); n != 0 {
		return fmt.Errorf("expected no credential reveal, got %d", n)
	}
	return nil
}

func (w *PurchaseWorld) assertNoCardNumber() error {
	card := "4242424242424242"
	if strings.Contains(string(w.httpBody), card) {
		return fmt.Errorf("status response leaks the card number")
	}
	if w.events.contains(card) {
		return fmt.Errorf("status event leaks the card number")
	}
	if w.httpJSON["status"] != string(purchase.StatusCompleted) {
		return fmt.Errorf("expected a completed purchase to inspect")
	}
	return nil
}
