// Command gen-traj generates synthetic state trajectories from the chain
// model of Hummer and Szabo for exercising the analysis pipeline.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/kinetics.report/internal/datasets"
	"github.com/banshee-data/kinetics.report/internal/trajio"
)

func main() {
	output := flag.String("o", "microtraj.txt", "microstate output path")
	macroOutput := flag.String("macro", "", "macrostate output path (optional)")
	model := flag.String("model", "8state", "chain model: 4state or 8state")
	nsteps := flag.Int("n", 100000, "number of frames")
	rateK := flag.Float64("rate-k", 0.1, "intra-pair transition rate")
	rateH := flag.Float64("rate-h", 0.01, "inter-pair transition rate")
	seed := flag.Uint64("seed", 0, "random seed (0 draws from entropy)")
	flag.Parse()

	var opts []datasets.Option
	if *seed != 0 {
		opts = append(opts, datasets.WithSeed(*seed))
	}

	var micro, macro []int64
	var err error
	switch *model {
	case "4state":
		micro, macro, err = datasets.Hummer15FourState(*rateK, *rateH, *nsteps, opts...)
	case "8state":
		micro, macro, err = datasets.Hummer15EightState(*rateK, *rateH, *nsteps, opts...)
	default:
		log.Fatalf("unknown model %q (valid: 4state, 8state)", *model)
	}
	if err != nil {
		log.Fatalf("failed to generate trajectory: %v", err)
	}

	header := fmt.Sprintf("hummer-szabo %s chain, k=%g h=%g n=%d", *model, *rateK, *rateH, *nsteps)
	if err := trajio.SaveTxt(*output, micro, header); err != nil {
		log.Fatalf("failed to write %s: %v", *output, err)
	}
	log.Printf("✓ Created: %s", *output)

	if *macroOutput != "" {
		if err := trajio.SaveTxt(*macroOutput, macro, header+" (macrostates)"); err != nil {
			log.Fatalf("failed to write %s: %v", *macroOutput, err)
		}
		log.Printf("✓ Created: %s", *macroOutput)
	}
}
