package whitelist

import (
	"os"

	"github.com/jamestelfer/bearer-gate/internal/jwt"
)

func LoadFromFile(path string) ([]jwt.TrustEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
