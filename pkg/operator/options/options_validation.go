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

package options

import (
	"fmt"
	"net/url"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
)

func (o Options) Validate() (err error) {
	if Environment(o.Environment) != Development && Environment(o.Environment) != Production {
		err = multierr.Append(err, fmt.Errorf("environment may only be either development or production"))
	}
	if o.DBSource == "" {
		err = multierr.Append(err, fmt.Errorf("DB_SOURCE is required"))
	}
	if o.AWSBucket == "" {
		err = multierr.Append(err, fmt.Errorf("AWS_BUCKET is required"))
	}
	err = multierr.Append(err, o.validateQueueURL())
	if o.MilvusURL == "" {
		err = multierr.Append(err, fmt.Errorf("MILVUS_URL is required"))
	}
	if o.IsProduction() && o.AWSKMSKeyID == "" {
		err = multierr.Append(err, fmt.Errorf("AWS_KMS_KEY_ID is required in production"))
	}
	if o.MinPoolSize < 0 {
		err = multierr.Append(err, fmt.Errorf("min-pool-size may not be negative"))
	}
	if o.MaxPoolSize < o.MinPoolSize {
		err = multierr.Append(err, fmt.Errorf("max-pool-size may not be below min-pool-size"))
	}
	if o.MaxConcurrentProvisioner <= 0 {
		err = multierr.Append(err, fmt.Errorf("max-concurrent-provisioner must be positive"))
	}
	if o.ModelDimension <= 0 {
		err = multierr.Append(err, fmt.Errorf("model-dimension must be positive"))
	}
	if o.PresignExpirySeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("presign-expiry-seconds must be positive"))
	}
	if o.ReceiveBatchSize <= 0 || o.ReceiveBatchSize > MaxReceiveBatchSize {
		err = multierr.Append(err, fmt.Errorf("receive-batch-size must be within [1, %d]", MaxReceiveBatchSize))
	}
	if o.ReceiveWaitSeconds < 0 || o.ReceiveWaitSeconds > MaxReceiveWaitSeconds {
		err = multierr.Append(err, fmt.Errorf("receive-wait-seconds must be within [0, %d]", MaxReceiveWaitSeconds))
	}
	if o.MaxConcurrentFiles <= 0 {
		err = multierr.Append(err, fmt.Errorf("max-concurrent-files must be positive"))
	}
	if _, parseErr := cron.ParseStandard(o.ReaperSchedule); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("\"%s\" not a valid reaper-schedule cron expression", o.ReaperSchedule))
	}
	return err
}

func (o Options) validateQueueURL() error {
	endpoint, err := url.Parse(o.AWSQueueURL)
	// url.Parse() will accept a lot of input without error; make
	// sure it's a real URL
	if err != nil || !endpoint.IsAbs() || endpoint.Hostname() == "" {
		return fmt.Errorf("\"%s\" not a valid AWS_QUEUE_URL", o.AWSQueueURL)
	}
	return nil
}
