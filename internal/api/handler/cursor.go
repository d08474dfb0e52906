package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/face-recognition/internal/index"
)

func DecodeIdentityCursor(cursorStr string) (*index.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	// identifiers may contain the separator, so only the first one splits
	decodedParts := strings.SplitN(string(decoded), "|", 2)
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &index.Cursor{
		CreatedAt:  time.Unix(0, createdAt).UTC(),
		Identifier: decodedParts[1],
	}, nil
}

func EncodeIdentityCursor(cursor *index.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.Identifier)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
