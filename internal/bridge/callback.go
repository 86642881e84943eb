package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvcrn/studio-bridge/internal/connectorauth"
)

// Poster sends a JSON body and returns the response body
type Poster interface {
	Post(ctx context.Context, url string, body interface{}) ([]byte, error)
}

type callbackRequest struct {
	RemoteConnectorID string `json:"remoteConnectorId"`
}

// CallbackAuth returns an InteractiveAuthFunc that asks the host at
// callbackURL to run the interactive flow and answer with a credential.
func CallbackAuth(callbackURL string, client Poster) InteractiveAuthFunc {
	return func(ctx context.Context, remoteConnectorID string) (*connectorauth.Credential, error) {
		body, err := client.Post(ctx, callbackURL, callbackRequest{RemoteConnectorID: remoteConnectorID})
		if err != nil {
			return nil, fmt.Errorf("interactive connector authentication failed: %w", err)
		}
		var cred connectorauth.Credential
		if err := json.Unmarshal(body, &cred); err != nil {
			return nil, fmt.Errorf("failed to decode connector credential: %w", err)
		}
		if cred.Token == "" && len(cred.Headers) == 0 {
			return nil, errors.New("host returned an empty connector credential")
		}
		return &cred, nil
	}
}
