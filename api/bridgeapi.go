package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/weaveworks/tcbridge/bridge"
	. "github.com/weaveworks/tcbridge/common"
)

const (
	HTTPPort = 6786
)

// MacEntry is the wire form of a learning-table row.
type MacEntry struct {
	MAC     string        `json:"mac"`
	Ifindex uint32        `json:"ifindex"`
	Age     time.Duration `json:"age"`
}

func NewMacEntries(rows []bridge.Row) []MacEntry {
	entries := make([]MacEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, MacEntry{MAC: row.MAC.String(), Ifindex: row.Ifindex, Age: row.Age})
	}
	return entries
}

func (e MacEntry) Row() (bridge.Row, error) {
	mac, err := bridge.ParseMAC(e.MAC)
	if err != nil {
		return bridge.Row{}, err
	}
	return bridge.Row{MAC: mac, Ifindex: e.Ifindex, Age: e.Age}, nil
}

// Client talks to the management interface of a running bridge daemon.
type Client struct {
	baseURL string
}

func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		if !strings.Contains(addr, ":") {
			addr = fmt.Sprintf("%s:%d", addr, HTTPPort)
		}
		addr = "http://" + addr
	}
	return &Client{baseURL: strings.TrimSuffix(addr, "/")}
}

func (client *Client) httpVerb(verb string, url string, body io.Reader) (string, error) {
	url = client.baseURL + url
	Log.Debugf("bridge %s to %s", verb, url)
	req, err := http.NewRequest(verb, url, body)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	rbody, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return string(rbody), nil
	}
	return "", errors.New(resp.Status + ": " + strings.TrimSpace(string(rbody)))
}

func (client *Client) AddMember(ifindex uint32) error {
	_, err := client.httpVerb("PUT", fmt.Sprintf("/members/%d", ifindex), nil)
	return err
}

func (client *Client) RemoveMember(ifindex uint32) error {
	_, err := client.httpVerb("DELETE", fmt.Sprintf("/members/%d", ifindex), nil)
	return err
}

func (client *Client) Members() ([]bridge.Member, error) {
	body, err := client.httpVerb("GET", "/members", nil)
	if err != nil {
		return nil, err
	}
	var members []bridge.Member
	if err := json.Unmarshal([]byte(body), &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (client *Client) Entries() ([]bridge.Row, error) {
	body, err := client.httpVerb("GET", "/mactable", nil)
	if err != nil {
		return nil, err
	}
	var entries []MacEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, err
	}
	rows := make([]bridge.Row, 0, len(entries))
	for _, e := range entries {
		row, err := e.Row()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
