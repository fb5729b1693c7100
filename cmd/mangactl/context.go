package main

import (
	"fmt"
	"strconv"
	"time"

	"manga-server/internal/adminclient"
)

type commandContext struct {
	server      string
	accessToken string
	timeout     time.Duration
	jsonOutput  bool
}

func (c *commandContext) client() (*adminclient.Client, error) {
	if c.accessToken == "" {
		return nil, fmt.Errorf("admin token is required (use --token or MANGACTL_TOKEN)")
	}
	return adminclient.New(c.server, c.accessToken, c.timeout, nil)
}

func parseID(kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, raw)
	}
	return id, nil
}
