package cache

import (
	"fmt"

	"github.com/cipherworks/fhemarket/pkg/models"
)

func JobStatusKey(jobID int64) string {
	return fmt.Sprintf("job:%d:status", jobID)
}

func ProviderInfoKey(addr models.Address) string {
	return fmt.Sprintf("provider:%s", addr)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
