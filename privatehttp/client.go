package privatehttp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"webup/borgmon"
)

type PrivateAPIClient struct {
	URL string
}

func NewClient(URL string) borgmon.PrivateAPIClient {
	return &PrivateAPIClient{URL: URL}
}

func (client *PrivateAPIClient) Sync(jobID string) (*borgmon.SyncResult, error) {

	resp, err := http.Post(client.URL+"/actions/sync?name="+jobID, "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%v", string(body))
	}

	result := borgmon.SyncResult{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}
