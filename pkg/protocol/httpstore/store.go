/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package httpstore is a protocol.Store that downloads tree leaves and circuit metadata from a tree server
// and caches the resulting protocol.Data in memory.
package httpstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/pkg/errors"

	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/protocol"
)

var logger = log.New("proving-agent/httpstore")

const (
	defaultRetryMax = 3
	statusSuccess   = "success"
)

var errNotFound = errors.New("resource not found")

// Store fetches protocol data over HTTP.
type Store struct {
	baseURLs map[protocol.Environment]string
	client   *http.Client
	cache    *protocol.MemStore
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		s.client = c
	}
}

// WithCache replaces the in-memory cache fetched data is put in.
func WithCache(c *protocol.MemStore) Option {
	return func(s *Store) {
		s.cache = c
	}
}

// New returns a Store reading from the tree server base URL of each environment.
func New(baseURLs map[protocol.Environment]string, opts ...Option) *Store {
	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultRetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.Logger = nil

	s := &Store{
		baseURLs: baseURLs,
		client:   &http.Client{Transport: &retryablehttp.RoundTripper{Client: rc}},
		cache:    protocol.NewMemStore(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Data returns the last fetched data.
func (s *Store) Data(env protocol.Environment, c document.Category) (*protocol.Data, error) {
	return s.cache.Data(env, c)
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type ofacLeaves struct {
	PassportNoAndNationality []string `json:"passportNoAndNationality"`
	NameAndDOB               []string `json:"nameAndDob"`
	NameAndYOB               []string `json:"nameAndYob"`
}

// Fetch downloads and caches the data of env and category c.
func (s *Store) Fetch(ctx context.Context, env protocol.Environment, c document.Category) error { // nolint:funlen
	base, ok := s.baseURLs[env]
	if !ok || base == "" {
		return errors.Errorf("no tree server configured for environment %s", env)
	}

	base = strings.TrimRight(base, "/")
	data := &protocol.Data{Environment: env, Category: c}

	var err error

	if data.DSCTree, err = s.fetchTree(ctx, fmt.Sprintf("%s/%s/dsc-tree", base, c)); err != nil {
		return errors.Wrap(err, "dsc tree")
	}

	if data.CSCATree, err = s.fetchTree(ctx, fmt.Sprintf("%s/%s/csca-tree", base, c)); err != nil {
		return errors.Wrap(err, "csca tree")
	}

	if data.CommitmentTree, err = s.fetchTree(ctx, fmt.Sprintf("%s/%s/identity-tree", base, c)); err != nil {
		return errors.Wrap(err, "commitment tree")
	}

	if err = s.get(ctx, base+"/deployed-circuits", &data.DeployedCircuits); err != nil {
		return errors.Wrap(err, "deployed circuits")
	}

	if err = s.get(ctx, base+"/circuit-dns-mapping", &data.DNSMapping); err != nil {
		return errors.Wrap(err, "circuit dns mapping")
	}

	err = s.get(ctx, fmt.Sprintf("%s/%s/alternative-csca", base, c), &data.AlternativeCSCA)
	if err != nil && !errors.Is(err, errNotFound) {
		return errors.Wrap(err, "alternative csca")
	}

	if data.OFAC, err = s.fetchOFAC(ctx, fmt.Sprintf("%s/%s/ofac", base, c)); err != nil {
		return errors.Wrap(err, "ofac trees")
	}

	logger.Debugf("fetched protocol data for %s/%s", env, c)

	return s.cache.Put(data)
}

func (s *Store) fetchTree(ctx context.Context, url string) (*protocol.Tree, error) {
	var leaves []string

	if err := s.get(ctx, url, &leaves); err != nil {
		return nil, err
	}

	return buildTree(ctx, leaves)
}

func (s *Store) fetchOFAC(ctx context.Context, url string) (*protocol.OFACTrees, error) {
	var raw ofacLeaves

	err := s.get(ctx, url, &raw)
	if errors.Is(err, errNotFound) {
		// sanction trees are only published where disclosure is supported.
		return nil, nil // nolint:nilnil
	}

	if err != nil {
		return nil, err
	}

	trees := &protocol.OFACTrees{}

	if trees.PassportNoAndNationality, err = buildTree(ctx, raw.PassportNoAndNationality); err != nil {
		return nil, err
	}

	if trees.NameAndDOB, err = buildTree(ctx, raw.NameAndDOB); err != nil {
		return nil, err
	}

	if trees.NameAndYOB, err = buildTree(ctx, raw.NameAndYOB); err != nil {
		return nil, err
	}

	return trees, nil
}

func buildTree(ctx context.Context, leaves []string) (*protocol.Tree, error) {
	values := make([]*big.Int, 0, len(leaves))

	for _, l := range leaves {
		v, ok := new(big.Int).SetString(l, 0)
		if !ok {
			return nil, errors.Errorf("invalid leaf %q", l)
		}

		values = append(values, v)
	}

	return protocol.NewTree(ctx, values)
}

func (s *Store) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Add("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			logger.Errorf("can not close body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(errNotFound, url)
	}

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("http request failed with status %v, error: %v", resp.StatusCode, string(body))
	}

	env := &envelope{}
	if err := json.Unmarshal(body, env); err != nil {
		return errors.Wrap(err, "decode response envelope")
	}

	if env.Status != statusSuccess {
		return errors.Errorf("tree server returned status %q: %s", env.Status, env.Message)
	}

	return errors.Wrap(json.Unmarshal(env.Data, out), "decode response data")
}
