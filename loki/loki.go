// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package loki ships log lines to a Grafana Loki server using the JSON push API.
package loki

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/common/model"
)

const (
	contentType  = "application/json"
	postPath     = "/loki/api/v1/push"
	maxErrMsgLen = 1024
)

type line struct {
	ts    time.Time
	level string
	text  string
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type pushRequest struct {
	Streams []*stream `json:"streams"`
}

// Loki is an io.Writer that batches zerolog JSON lines and pushes them to Loki.
// Writes never block on the network; lines are dropped if the buffer is full.
type Loki struct {
	LokiURL   string
	BatchWait time.Duration
	BatchSize int

	client   *http.Client
	lineChan chan *line
	execEnv  string
	data     model.LabelSet
	dataLock sync.RWMutex
	wg       sync.WaitGroup
}

func New(lokiURL string, batchSize, batchWait int) (*Loki, error) {
	l := &Loki{
		LokiURL:   lokiURL,
		BatchSize: batchSize,
		BatchWait: time.Duration(batchWait) * time.Second,
		client:    &http.Client{Timeout: 5 * time.Second},
		lineChan:  make(chan *line, 1024),
		data:      model.LabelSet{},
	}

	if execEnv, ok := os.LookupEnv("EXECUTION_ENVIRONMENT"); ok {
		l.execEnv = execEnv
	} else {
		l.execEnv = "test"
	}

	u, err := url.Parse(l.LokiURL)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(u.Path, postPath) {
		u.Path = postPath
		l.LokiURL = u.String()
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// AddData attaches a static label to every pushed stream
func (l *Loki) AddData(key, value string) {
	l.dataLock.Lock()
	defer l.dataLock.Unlock()
	l.data[model.LabelName(key)] = model.LabelValue(value)
}

// Write implements io.Writer; p is expected to hold one zerolog JSON event
func (l *Loki) Write(p []byte) (int, error) {
	var event struct {
		Level string `json:"level"`
	}
	_ = json.Unmarshal(p, &event)
	if event.Level == "" {
		event.Level = "info"
	}

	ll := &line{
		ts:    time.Now(),
		level: event.Level,
		text:  strings.TrimRight(string(p), "\n"),
	}

	select {
	case l.lineChan <- ll:
	default:
		fmt.Fprintf(os.Stderr, "%v WARN: loki buffer full; dropping log line\n", ll.ts)
	}
	return len(p), nil
}

// Close flushes pending lines and stops the background sender
func (l *Loki) Close() {
	close(l.lineChan)
	l.wg.Wait()
}

func (l *Loki) labelsFor(level string) model.LabelSet {
	l.dataLock.RLock()
	defer l.dataLock.RUnlock()

	labels := l.data.Clone()
	labels["level"] = model.LabelValue(level)
	labels["env"] = model.LabelValue(l.execEnv)
	return labels
}

func (l *Loki) run() {
	var (
		lastPktTime time.Time
		maxWait     = time.NewTimer(l.BatchWait)
		batch       = map[model.Fingerprint]*stream{}
		batchSize   = 0
	)
	defer l.wg.Done()

	defer func() {
		if err := l.sendBatch(batch); err != nil {
			fmt.Fprintf(os.Stderr, "%v ERROR: loki flush: %v\n", time.Now(), err)
		}
	}()

	for {
		select {
		case ll, ok := <-l.lineChan:
			if !ok {
				return
			}
			// guard against entry out of order errors
			if lastPktTime.After(ll.ts) {
				ll.ts = time.Now()
			}
			lastPktTime = ll.ts

			if batchSize+len(ll.text) > l.BatchSize {
				if err := l.sendBatch(batch); err != nil {
					fmt.Fprintf(os.Stderr, "%v ERROR: send size batch: %v\n", lastPktTime, err)
				}
				batchSize = 0
				batch = map[model.Fingerprint]*stream{}
				maxWait.Reset(l.BatchWait)
			}

			labels := l.labelsFor(ll.level)
			fp := labels.FastFingerprint()
			s, ok := batch[fp]
			if !ok {
				s = &stream{Stream: make(map[string]string, len(labels))}
				for k, v := range labels {
					s.Stream[string(k)] = string(v)
				}
				batch[fp] = s
			}
			s.Values = append(s.Values, [2]string{strconv.FormatInt(ll.ts.UnixNano(), 10), ll.text})
			batchSize += len(ll.text)

		case <-maxWait.C:
			if len(batch) > 0 {
				if err := l.sendBatch(batch); err != nil {
					fmt.Fprintf(os.Stderr, "%v ERROR: send time batch: %v\n", lastPktTime, err)
				}
				batchSize = 0
				batch = map[model.Fingerprint]*stream{}
			}
			maxWait.Reset(l.BatchWait)
		}
	}
}

func (l *Loki) sendBatch(batch map[model.Fingerprint]*stream) error {
	if len(batch) == 0 {
		return nil
	}

	req := pushRequest{Streams: make([]*stream, 0, len(batch))}
	for _, s := range batch {
		req.Streams = append(req.Streams, s)
	}

	buf, err := json.Marshal(&req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = l.send(ctx, buf)
	return err
}

func (l *Loki) send(ctx context.Context, buf []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.LokiURL, bytes.NewReader(buf))
	if err != nil {
		return -1, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := l.client.Do(req)
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		scanner := bufio.NewScanner(io.LimitReader(resp.Body, maxErrMsgLen))
		text := ""
		if scanner.Scan() {
			text = scanner.Text()
		}
		err = fmt.Errorf("server returned HTTP status %s (%d): %s", resp.Status, resp.StatusCode, text)
	}
	return resp.StatusCode, err
}
