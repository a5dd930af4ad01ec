package secrets

import (
	"sort"
	"strings"
	"sync"

	"github.com/stolostron/console-sub025/src/config"
)

var (
	secrets           = map[string]struct{}{}
	secretsLock       = sync.RWMutex{}
	configSecrets     = map[string]struct{}{}
	configSecretsLock = sync.RWMutex{}
)

const REDACTED = "***[REDACTED]***"

// Register a value which is not part of the config but must never be logged,
// e.g. a bearer token read from a kubeconfig.
func AddSecret(secret string) {
	if secret == "" {
		return
	}

	secretsLock.Lock()
	defer secretsLock.Unlock()

	secrets[secret] = struct{}{}
}

func UpdateConfigSecrets(configVariables []config.ConfigVariable) {
	newConfigSecrets := map[string]struct{}{}
	for _, cv := range configVariables {
		if !cv.IsSecret || cv.Value == "" {
			continue
		}
		newConfigSecrets[cv.Value] = struct{}{}
	}

	configSecretsLock.Lock()
	defer configSecretsLock.Unlock()

	configSecrets = newConfigSecrets
}

// All known secrets, longest first so overlapping values are fully erased.
func SecretArray() []string {
	data := map[string]struct{}{}

	secretsLock.RLock()
	for secret := range secrets {
		data[secret] = struct{}{}
	}
	secretsLock.RUnlock()

	configSecretsLock.RLock()
	for secret := range configSecrets {
		data[secret] = struct{}{}
	}
	configSecretsLock.RUnlock()

	result := make([]string, 0, len(data))
	for secret := range data {
		result = append(result, secret)
	}
	sort.Slice(result, func(i, j int) bool {
		if len(result[i]) != len(result[j]) {
			return len(result[i]) > len(result[j])
		}
		return result[i] < result[j]
	})

	return result
}

func EraseSecrets(data string) string {
	for _, secret := range SecretArray() {
		data = strings.ReplaceAll(data, secret, REDACTED)
	}
	return data
}
