package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"crm-platform/internal/upstream"

	"github.com/mdp/qrterminal/v3"
)

type pairing struct {
	Code      string `json:"code"`
	PairCode  string `json:"pair_code"`
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
}

// FetchPairing asks the API to start pairing an instance and returns the
// payload to scan.
func (f *apiFetcher) FetchPairing(ctx context.Context, instanceID string) (pairing, error) {
	var p pairing
	err := f.client.Do(ctx, upstream.Request{
		Method:  http.MethodGet,
		Path:    "/v1/instances/" + url.PathEscape(instanceID) + "/qrcode",
		Headers: f.headers,
	}, &p)
	return p, err
}

// printPairing draws the instance's pairing QR code in the terminal.
func printPairing(ctx context.Context, w io.Writer, f *apiFetcher, instanceID string) error {
	p, err := f.FetchPairing(ctx, instanceID)
	if err != nil {
		return err
	}
	if p.Connected {
		fmt.Fprintf(w, "instance %s is already connected (%s)\n", instanceID, p.Status)
		return nil
	}
	if p.Code == "" {
		return errors.New("gateway returned no QR code")
	}
	qrterminal.GenerateHalfBlock(p.Code, qrterminal.L, w)
	if p.PairCode != "" {
		fmt.Fprintf(w, "pairing code: %s\n", p.PairCode)
	}
	return nil
}
