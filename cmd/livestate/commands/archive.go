// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/snapshot"
)

func exportCommand(stdio streams) *cli.Command {
	var flags storeFlags
	var compression, recipientsFile string
	var force bool
	return &cli.Command{
		Name:    "export",
		Summary: "Write a room to a snapshot archive",
		Description: `Write a room's nodes to a snapshot archive: a one-line header naming
the compression, encryption and content digest, followed by the
compressed and optionally age-encrypted NDJSON snapshot stream.

Compression defaults to snapshot.compression from the config file. The
archive is encrypted when a recipients file is given, either with
--recipients or as snapshot.recipients_file. The header line is printed
to stdout. Use "-" to write the archive to stdout instead.`,
		Usage: "livestate export <room> <file|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			flagSet.StringVar(&compression, "compression", "", "none, zstd or lz4 (default snapshot.compression)")
			flagSet.StringVar(&recipientsFile, "recipients", "", "age recipients file (default snapshot.recipients_file)")
			flagSet.BoolVarP(&force, "force", "f", false, "overwrite an existing file")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Export a room with lz4 and no encryption",
				Command:     "livestate export board-1 board-1.lsnap --compression lz4",
			},
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 2, 2, "livestate export <room> <file|->"); err != nil {
				return err
			}
			env, err := flags.open("export")
			if err != nil {
				return err
			}
			defer env.close(&err)

			if compression == "" {
				compression = env.config.Snapshot.Compression
			}
			options := snapshot.Options{}
			if options.Compression, err = snapshot.ParseCompression(compression); err != nil {
				return err
			}
			if recipientsFile == "" {
				recipientsFile = env.config.Snapshot.RecipientsFile
			}
			if recipientsFile != "" {
				if options.Recipients, err = loadRecipients(recipientsFile); err != nil {
					return err
				}
			}

			registry, err := env.store.Registry(ctx, args[0])
			if err != nil {
				return err
			}

			if args[1] == "-" {
				_, err := snapshot.Write(stdio.out, registry, options)
				return err
			}

			mode := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				mode = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			file, err := os.OpenFile(args[1], mode, 0o600)
			if err != nil {
				return err
			}
			header, err := snapshot.Write(file, registry, options)
			if closeErr := file.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				os.Remove(args[1])
				return fmt.Errorf("writing %s: %w", args[1], err)
			}
			env.logger.Info("room exported",
				"room_id", args[0],
				"file", args[1],
				"compression", header.Compression.String(),
				"encrypted", header.Encrypted,
			)
			_, err = fmt.Fprintln(stdio.out, header)
			return err
		},
	}
}

func importCommand(stdio streams) *cli.Command {
	var flags storeFlags
	var identitiesFile string
	return &cli.Command{
		Name:    "import",
		Summary: "Create a room from a snapshot archive",
		Description: `Read a snapshot archive, verify its digest, and create a new room
holding its nodes. Encrypted archives are decrypted with --identities or
snapshot.identities_file. Use "-" to read the archive from stdin.`,
		Usage: "livestate import <room> <file|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			flagSet.StringVar(&identitiesFile, "identities", "", "age identities file (default snapshot.identities_file)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 2, 2, "livestate import <room> <file|->"); err != nil {
				return err
			}
			env, err := flags.open("import")
			if err != nil {
				return err
			}
			defer env.close(&err)

			options := snapshot.ReadOptions{}
			if identitiesFile == "" {
				identitiesFile = env.config.Snapshot.IdentitiesFile
			}
			if identitiesFile != "" {
				if options.Identities, err = loadIdentities(identitiesFile); err != nil {
					return err
				}
			}

			var source io.Reader = stdio.in
			if args[1] != "-" {
				file, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer file.Close()
				source = file
			}

			registry, header, err := snapshot.Read(source, options)
			if err != nil {
				if errors.Is(err, snapshot.ErrEncrypted) {
					return fmt.Errorf("%w (pass --identities or set snapshot.identities_file)", err)
				}
				return err
			}
			if err := env.store.Import(ctx, args[0], registry); err != nil {
				return err
			}
			env.logger.Info("room imported",
				"room_id", args[0],
				"nodes", registry.Len(),
				"digest", header.Digest,
			)
			return nil
		},
	}
}

func digestCommand(stdio streams) *cli.Command {
	var flags storeFlags
	var expect string
	return &cli.Command{
		Name:    "digest",
		Summary: "Print a room's content digest",
		Description: `Print the BLAKE3 digest of a room's canonical snapshot stream. Two
rooms holding the same nodes have the same digest, and it matches the
digest recorded in archives exported from the room.

With --expect, nothing is printed and the exit code is 1 when the
digest differs.`,
		Usage: "livestate digest <room> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("digest", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			flagSet.StringVar(&expect, "expect", "", "compare against this digest instead of printing")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) (err error) {
			if err := cli.ExpectArgs(args, 1, 1, "livestate digest <room>"); err != nil {
				return err
			}
			env, err := flags.open("digest")
			if err != nil {
				return err
			}
			defer env.close(&err)

			registry, err := env.store.Registry(ctx, args[0])
			if err != nil {
				return err
			}
			digest, err := snapshot.Digest(registry)
			if err != nil {
				return err
			}
			if expect != "" {
				if digest != expect {
					return &cli.ExitError{Code: 1}
				}
				return nil
			}
			_, err = fmt.Fprintln(stdio.out, digest)
			return err
		},
	}
}

func loadRecipients(path string) ([]age.Recipient, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipients: %w", err)
	}
	defer file.Close()
	return snapshot.ParseRecipients(file)
}

func loadIdentities(path string) ([]age.Identity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading identities: %w", err)
	}
	defer file.Close()
	return snapshot.ParseIdentities(file)
}
