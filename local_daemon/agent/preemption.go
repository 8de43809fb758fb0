package agent

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// spotActionMetadataPath is the instance-metadata path that carries a
// pending spot-interruption verdict once one is scheduled; 404 while
// the instance is not being reclaimed.
const spotActionMetadataPath = "/latest/meta-data/spot/instance-action"

// preemptionVerdicts are the substrings of a spot-action/termination
// metadata response that mean "this host is going away" (spec 4.J).
var preemptionVerdicts = []string{"stop", "terminate", "reboot", "redeploy"}

// PreemptionWatcher polls the cloud metadata endpoint on a fixed
// interval (spec 4.J) and invokes the agent's orderly shutdown the
// first time it observes a preemption verdict. The metadata client
// itself (imds) is an external collaborator per spec §1; this type
// only captures the poll-and-react contract.
type PreemptionWatcher struct {
	client   *imds.Client
	interval time.Duration
	onVerdict func(verdict string)

	log logger.Logger
}

// NewPreemptionWatcher constructs a watcher. onVerdict is invoked at
// most once per watcher lifetime, with the matched verdict keyword.
func NewPreemptionWatcher(interval time.Duration, onVerdict func(verdict string)) *PreemptionWatcher {
	w := &PreemptionWatcher{
		client:    imds.New(imds.Options{}),
		interval:  interval,
		onVerdict: onVerdict,
	}
	config.InitLogger(&w.log, w)
	return w
}

// Run polls until stop is closed or a preemption verdict fires.
func (w *PreemptionWatcher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if verdict, ok := w.poll(); ok {
				w.log.Info("preemption verdict observed: %s", verdict)
				if w.onVerdict != nil {
					w.onVerdict(verdict)
				}
				return
			}
		}
	}
}

func (w *PreemptionWatcher) poll() (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := w.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: spotActionMetadataPath})
	if err != nil {
		return "", false
	}
	defer out.Content.Close()

	body, err := io.ReadAll(out.Content)
	if err != nil {
		return "", false
	}

	lower := strings.ToLower(string(body))
	for _, verdict := range preemptionVerdicts {
		if strings.Contains(lower, verdict) {
			return verdict, true
		}
	}
	return "", false
}
