package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/couchcryptid/hml-forecast-producer/internal/config"
)

// credentials is the JSON shape of the broker secret.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewSecretsManager creates a Secrets Manager client for region.
func NewSecretsManager(region string) (secretsmanageriface.SecretsManagerAPI, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:     aws.String(region),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}
	return secretsmanager.New(sess), nil
}

// ResolveURL returns the AMQP URL to dial. Without RABBITMQ_SECRET_ARN it is
// RABBITMQ_URL as configured. With it, the username and password are read
// from the secret and combined with RABBITMQ_ENDPOINT.
func ResolveURL(ctx context.Context, cfg *config.Config, sm secretsmanageriface.SecretsManagerAPI) (string, error) {
	if cfg.RabbitMQSecretARN == "" {
		return cfg.RabbitMQURL, nil
	}
	if sm == nil {
		return "", errors.New("RABBITMQ_SECRET_ARN is set but no secrets client is available")
	}

	out, err := sm.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(cfg.RabbitMQSecretARN),
	})
	if err != nil {
		return "", fmt.Errorf("get broker secret: %w", err)
	}
	if out.SecretString == nil {
		return "", errors.New("broker secret has no string value")
	}

	var creds credentials
	if err := json.Unmarshal([]byte(aws.StringValue(out.SecretString)), &creds); err != nil {
		return "", fmt.Errorf("decode broker secret: %w", err)
	}
	if creds.Username == "" {
		return "", errors.New("broker secret has no username")
	}
	return buildURL(cfg.RabbitMQEndpoint, creds)
}

// buildURL accepts a bare host, host:port, or a full amqp(s) URL.
func buildURL(endpoint string, creds credentials) (string, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "amqp://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse RABBITMQ_ENDPOINT: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("RABBITMQ_ENDPOINT %q has no host", endpoint)
	}
	if u.Port() == "" {
		port := "5672"
		if u.Scheme == "amqps" {
			port = "5671"
		}
		u.Host = u.Host + ":" + port
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.User = url.UserPassword(creds.Username, creds.Password)
	return u.String(), nil
}
