// Command guidanceclient asks a running service for first-aid guidance over
// gRPC and optionally saves the spoken instructions as a WAV file.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	grpcapi "github.com/sudarshan922/insta-first-aid/internal/api/grpc"
	"github.com/sudarshan922/insta-first-aid/internal/service/audio"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/markdown"
)

func main() {
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	text := flag.String("text", "My father has chest pain and difficulty breathing", "Emergency description")
	lang := flag.String("language", string(language.English), "Output language code")
	chat := flag.String("chat", "", "Ask the first-aid assistant instead of running the pipeline")
	out := flag.String("out", "", "Write the guidance audio to this WAV file")
	timeout := flag.Duration("timeout", 2*time.Minute, "Call timeout")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()

	client := grpcapi.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *chat != "" {
		answer, err := client.Chat(ctx, *chat)
		if err != nil {
			log.Fatal().Err(err).Msg("Chat failed")
		}
		os.Stdout.WriteString(answer + "\n")
		return
	}

	invocationId := uuid.NewString()
	ctx = metadata.AppendToOutgoingContext(ctx, grpcapi.InvocationMetadataKey, invocationId)
	log.Info().Str("invocationId", invocationId).Str("server", *serverAddr).Msg("Requesting guidance")

	start := time.Now()
	resp, err := client.Run(ctx, *text, language.Code(*lang))
	if err != nil {
		log.Fatal().Err(err).Msg("Guidance failed")
	}
	fields := resp.GetFields()

	if !fields["isEmergency"].GetBoolValue() {
		log.Info().Dur("elapsed", time.Since(start)).Msg("Not an emergency, no guidance generated")
		return
	}

	instructions := fields["instructions"].GetStringValue()
	lines := markdown.Parse(instructions)
	log.Info().
		Dur("elapsed", time.Since(start)).
		Int("lines", len(lines)).
		Bool("wellFormed", markdown.WellFormed(lines)).
		Bool("degraded", fields["degraded"].GetBoolValue()).
		Str("audioError", fields["audioError"].GetStringValue()).
		Msg("Guidance received")
	os.Stdout.WriteString(instructions + "\n")

	uri := fields["audioDataUri"].GetStringValue()
	if uri == "" {
		return
	}
	media, err := audio.ParseDataURI(uri)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid audio data URI")
	}
	format, pcm, err := audio.DecodeWAV(media.Data)
	if err != nil {
		log.Fatal().Err(err).Msg("Audio is not a valid WAV container")
	}
	log.Info().
		Int("sampleRateHz", format.SampleRateHz).
		Int("channels", format.Channels).
		Int64("durationMs", format.DurationMs(len(pcm))).
		Msg("Audio verified")

	if *out != "" {
		if err := os.WriteFile(*out, media.Data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("Failed to write audio")
		}
		log.Info().Str("file", *out).Msg("Audio saved")
	}
}
