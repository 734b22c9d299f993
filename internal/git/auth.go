package git

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// TokenAuth builds basic auth from the named environment variable.
// GitHub/GitLab accept "token" as the username for token pushes.
func TokenAuth(tokenEnv string) (transport.AuthMethod, error) {
	token := os.Getenv(tokenEnv)
	if token == "" {
		return nil, fmt.Errorf("environment variable %s is empty", tokenEnv)
	}
	return &http.BasicAuth{
		Username: "token",
		Password: token,
	}, nil
}
