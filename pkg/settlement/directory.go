package settlement

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

// User is the part of an identity record settlement needs. Address is empty when no wallet is
// linked.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Directory resolves user ids to identities. Unknown ids return errs.ErrNotFound.
type Directory interface {
	Lookup(ctx context.Context, userID string) (User, error)
}

// StaticDirectory is a fixed in-memory directory keyed by user id.
type StaticDirectory map[string]User

func (d StaticDirectory) Lookup(_ context.Context, userID string) (User, error) {
	u, ok := d[userID]
	if !ok {
		return User{}, eris.Wrapf(errs.ErrNotFound, "user %s", userID)
	}
	return u, nil
}

const defaultDirectoryTimeout = 10 * time.Second

// HTTPDirectory looks users up on the identity service at GET {BaseURL}/users/{id}.
type HTTPDirectory struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPDirectory(baseURL, token string) *HTTPDirectory {
	return &HTTPDirectory{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: defaultDirectoryTimeout},
	}
}

func (d *HTTPDirectory) Lookup(ctx context.Context, userID string) (User, error) {
	endpoint := d.BaseURL + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, eris.Wrap(err, "failed to build identity request")
	}
	req.Header.Set("Accept", "application/json")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return User{}, eris.Wrap(err, "identity service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return User{}, eris.Wrap(err, "failed to read identity response")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return User{}, eris.Wrapf(errs.ErrNotFound, "user %s", userID)
	case resp.StatusCode != http.StatusOK:
		return User{}, eris.Errorf("identity service returned %d: %s", resp.StatusCode, string(body))
	}

	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return User{}, eris.Wrap(err, "failed to decode identity response")
	}
	if u.ID == "" {
		u.ID = userID
	}
	return u, nil
}
