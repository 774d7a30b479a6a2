/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/DEVunderdog/NeuroStash/pkg/operator"
	"github.com/DEVunderdog/NeuroStash/pkg/operator/options"
	"github.com/DEVunderdog/NeuroStash/pkg/utils/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options.New().MustParse()
	ctx, op, err := operator.New(ctx, opts)
	if err != nil {
		logging.FromContext(ctx).Fatalf("bootstrapping operator, %s", err)
	}
	logging.FromContext(ctx).With("environment", opts.Environment).Info("starting control plane")
	if err := op.Start(ctx); err != nil {
		logging.FromContext(ctx).Fatalf("running control plane, %s", err)
	}
	logging.FromContext(ctx).Info("control plane stopped")
}
