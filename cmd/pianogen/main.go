package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"pianogen/ai"
	"pianogen/encode"
	"pianogen/engine"
	"pianogen/export"
	"pianogen/music"
	"pianogen/server"
	"pianogen/store"
)

var version string

const shutdownTimeout = 10 * time.Second

func main() {
	app := cli.NewApp()
	app.Version = version
	app.Compiled = time.Now()
	app.Name = "pianogen"
	app.Usage = "generate piano music from a trained note-sequence model"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.InfoLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "train",
			Usage: "fit a model on a JSON corpus of note sequences (offline)",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "corpus,c",
					Usage: "JSON corpus file produced by the dataset collaborator",
				},
				cli.StringFlag{
					Name:  "model,m",
					Value: "markov",
					Usage: "model type: markov or neural",
				},
				cli.StringFlag{
					Name:  "name,n",
					Value: "default",
					Usage: "name to store the trained model under",
				},
				cli.StringFlag{
					Name:  "store,s",
					Value: "models.json",
					Usage: "model store file",
				},
				cli.IntFlag{
					Name:  "order",
					Value: 2,
					Usage: "Markov context length",
				},
				cli.IntFlag{
					Name:  "min-count",
					Value: 2,
					Usage: "Markov back-off threshold",
				},
				cli.IntFlag{
					Name:  "epochs",
					Value: 200,
					Usage: "neural training epochs",
				},
				cli.IntFlag{
					Name:  "window",
					Value: 8,
					Usage: "neural context window length",
				},
				cli.IntFlag{
					Name:  "hidden",
					Value: 32,
					Usage: "neural hidden units",
				},
				cli.Float64Flag{
					Name:  "rate",
					Value: 0.1,
					Usage: "neural learning rate",
				},
			},
			Action: train,
		},
		{
			Name:  "generate",
			Usage: "generate one sequence and write it as a MIDI file",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "store,s",
					Value: "models.json",
					Usage: "model store file",
				},
				cli.StringFlag{
					Name:  "model,m",
					Value: "markov",
					Usage: "model type: markov or neural",
				},
				cli.StringFlag{
					Name:  "name,n",
					Value: "default",
					Usage: "stored model name",
				},
				cli.Float64Flag{
					Name:  "duration,d",
					Value: 30,
					Usage: "duration in seconds (10-120)",
				},
				cli.Float64Flag{
					Name:  "tempo,t",
					Value: 120,
					Usage: "tempo in BPM (60-200)",
				},
				cli.Float64Flag{
					Name:  "complexity",
					Value: 0.5,
					Usage: "sampling complexity 0-1",
				},
				cli.Int64Flag{
					Name:  "seed",
					Usage: "random seed, 0 for clock",
				},
				cli.StringFlag{
					Name:  "out,o",
					Value: "generated.mid",
					Usage: "output MIDI file",
				},
			},
			Action: generate,
		},
		{
			Name:   "serve",
			Usage:  "serve generation over HTTP (PORT, MODEL_STORE, LOG_LEVEL env)",
			Action: serve,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func train(c *cli.Context) error {
	corpusFile := c.String("corpus")
	if corpusFile == "" {
		return cli.NewExitError("--corpus is required", 1)
	}
	corpus, err := music.Open(corpusFile)
	if err != nil {
		return err
	}
	log.Infof("Loaded corpus of %d sequences from %s", len(corpus), corpusFile)

	quant := encode.Default()
	enc := encode.NewEncoder(quant)

	st, err := store.Open(c.String("store"))
	if err != nil {
		return err
	}
	name := c.String("name")

	switch c.String("model") {
	case "markov":
		cfg := ai.MarkovConfig{Order: c.Int("order"), MinCount: c.Int("min-count")}
		alphabet, sequences, err := enc.Encode(corpus, cfg.Order+1)
		if err != nil {
			return err
		}
		m := ai.NewMarkov(cfg, alphabet.Size())
		if err = m.Fit(sequences); err != nil {
			return err
		}
		if err = st.SaveMarkov(name, quant, alphabet, m); err != nil {
			return err
		}
		log.Infof("Saved markov model %q (order %d, alphabet %d)", name, cfg.Order, alphabet.Size())
	case "neural":
		cfg := ai.DefaultTrainingConfig()
		cfg.Epochs = c.Int("epochs")
		cfg.WindowLength = c.Int("window")
		cfg.HiddenUnits = c.Int("hidden")
		cfg.LearningRate = c.Float64("rate")
		alphabet, sequences, err := enc.Encode(corpus, 2)
		if err != nil {
			return err
		}
		n := ai.NewNeural(cfg, alphabet.Size())
		if err = n.Fit(sequences); err != nil {
			return err
		}
		if err = st.SaveNeural(name, quant, alphabet, n); err != nil {
			return err
		}
		log.Infof("Saved neural model %q (window %d, alphabet %d)", name, cfg.WindowLength, alphabet.Size())
	default:
		return cli.NewExitError("--model must be markov or neural", 1)
	}
	return nil
}

func generate(c *cli.Context) error {
	st, err := store.Open(c.String("store"))
	if err != nil {
		return err
	}

	var entry *engine.Entry
	switch c.String("model") {
	case "markov":
		entry, err = st.LoadMarkov(c.String("name"))
	case "neural":
		entry, err = st.LoadNeural(c.String("name"))
	default:
		return cli.NewExitError("--model must be markov or neural", 1)
	}
	if err != nil {
		return err
	}

	eng := engine.New(entry.Encoder, entry.Alphabet)
	seq, err := eng.Generate(entry.Model, engine.Parameters{
		DurationSeconds: c.Float64("duration"),
		TempoBPM:        c.Float64("tempo"),
		Complexity:      c.Float64("complexity"),
		Seed:            c.Int64("seed"),
	})
	if err != nil {
		return err
	}

	out, err := os.Create(c.String("out"))
	if err != nil {
		return err
	}
	defer out.Close()
	if err = export.WriteSMF(out, seq); err != nil {
		return err
	}
	fmt.Printf("Wrote %d notes (%gs, %g BPM, %s) to %s\n",
		len(seq.Notes), seq.Total, seq.Tempo, seq.Key, c.String("out"))
	return nil
}

func serve(c *cli.Context) error {
	_ = server.LoadEnv()

	port := server.GetEnv("PORT", "8080")
	storePath := server.GetEnv("MODEL_STORE", "models.json")
	if lvl, err := log.ParseLevel(server.GetEnv("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}

	st, err := store.Open(storePath)
	if err != nil {
		return err
	}

	metrics := server.NewMetrics()
	svc := server.NewService(metrics)

	name := server.GetEnv("MODEL_NAME", "default")
	if entry, err := st.LoadMarkov(name); err == nil {
		entry.Name = "markov"
		svc.Publish(entry)
		log.Info("Published markov model")
	} else {
		log.Warnf("No markov model loaded: %s", err)
	}
	if entry, err := st.LoadNeural(name); err == nil {
		entry.Name = "neural"
		svc.Publish(entry)
		log.Info("Published neural model")
	} else {
		log.Warnf("No neural model loaded: %s", err)
	}

	h := server.NewHandler(svc, metrics)
	srv := &http.Server{Addr: ":" + port, Handler: server.NewRouter(h, metrics)}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %s", err)
		}
	}()
	log.Infof("Serving on :%s (models: %v)", port, svc.Models())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
