// Command waxfs manipulates waxfs disk images: formatting, inspecting, and
// moving files in and out of them.
//
// The default image path can come from the WAXFS_IMAGE environment variable,
// optionally loaded from a .env file in the working directory.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"

	"github.com/waxfs/waxfs"
	"github.com/waxfs/waxfs/disk"
	"github.com/waxfs/waxfs/disks"
	"github.com/waxfs/waxfs/fsys"
	"github.com/waxfs/waxfs/layout"
	"github.com/waxfs/waxfs/mkfs"
)

func main() {
	// A missing .env is fine; the flag still has the final say.
	godotenv.Load()

	app := &cli.App{
		Usage: "Manage waxfs disk image files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path to the disk image",
				EnvVars: []string{"WAXFS_IMAGE"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(ctx *cli.Context) error {
			level := slog.LevelInfo
			if ctx.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(
				tint.NewHandler(os.Stderr, &tint.Options{Level: level}),
			))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create a fresh image",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "preset",
						Value: "classic",
						Usage: "geometry preset (see 'presets')",
					},
				},
				Action: formatImage,
			},
			{
				Name:   "presets",
				Usage:  "List the known geometry presets",
				Action: listPresets,
			},
			{
				Name:   "info",
				Usage:  "Print the superblock of an image",
				Action: imageInfo,
			},
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "PATH",
				Action:    listDirectory,
			},
			{
				Name:      "cat",
				Usage:     "Write a file's contents to stdout",
				ArgsUsage: "PATH",
				Action:    catFile,
			},
			{
				Name:      "put",
				Usage:     "Copy a host file into the image",
				ArgsUsage: "HOST_FILE IMAGE_PATH",
				Action:    putFile,
			},
			{
				Name:      "get",
				Usage:     "Copy a file out of the image to a host path",
				ArgsUsage: "IMAGE_PATH HOST_FILE",
				Action:    getFile,
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory in the image",
				ArgsUsage: "PATH",
				Action:    makeDirectory,
			},
			{
				Name:      "rm",
				Usage:     "Unlink a file or empty directory",
				ArgsUsage: "PATH",
				Action:    removePath,
			},
			{
				Name:      "ln",
				Usage:     "Create a hard link",
				ArgsUsage: "OLDPATH NEWPATH",
				Action:    linkPath,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func imagePath(ctx *cli.Context) (string, error) {
	path := ctx.String("image")
	if path == "" {
		return "", waxfs.ErrInvalidArgument.WithMessage(
			"no image given; use --image or set WAXFS_IMAGE")
	}
	return path, nil
}

// mountImage opens the image file and mounts it; the caller must Close the
// returned file.
func mountImage(ctx *cli.Context) (*fsys.FileSystem, *os.File, error) {
	path, err := imagePath(ctx)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	dev := disk.NewImageDevice(file, uint32(info.Size()/layout.BlockSize))
	fs, err := fsys.Mount(dev, nil)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return fs, file, nil
}

func formatImage(ctx *cli.Context) error {
	path, err := imagePath(ctx)
	if err != nil {
		return err
	}
	preset, err := disks.Lookup(ctx.String("preset"))
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	sb, err := mkfs.Format(file, preset.Geometry())
	if err != nil {
		return err
	}
	slog.Info("formatted image",
		"path", path,
		"preset", preset.Slug,
		"size", humanize.IBytes(uint64(sb.Size)*layout.BlockSize),
		"dataBlocks", sb.NBlocks,
		"inodes", sb.NInodes)
	return nil
}

func listPresets(ctx *cli.Context) error {
	presets, err := disks.All()
	if err != nil {
		return err
	}
	for _, p := range presets {
		fmt.Printf("%-10s %-28s %8s  %5d inodes  %s\n",
			p.Slug, p.Name,
			humanize.IBytes(uint64(p.TotalBlocks)*layout.BlockSize),
			p.NInodes, p.Notes)
	}
	return nil
}

func imageInfo(ctx *cli.Context) error {
	fs, file, err := mountImage(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	sb := fs.Superblock()
	fmt.Printf("total size:   %s (%d blocks of %d bytes)\n",
		humanize.IBytes(uint64(sb.Size)*layout.BlockSize), sb.Size, layout.BlockSize)
	fmt.Printf("data blocks:  %d (%s)\n",
		sb.NBlocks, humanize.IBytes(uint64(sb.NBlocks)*layout.BlockSize))
	fmt.Printf("inodes:       %d\n", sb.NInodes)
	fmt.Printf("log blocks:   %d starting at block %d\n", sb.NLog, sb.LogStart)
	fmt.Printf("inode region: block %d\n", sb.InodeStart)
	fmt.Printf("bitmap:       block %d\n", sb.BmapStart)
	return fs.Unmount()
}

func listDirectory(ctx *cli.Context) error {
	fs, file, err := mountImage(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	path := ctx.Args().First()
	if path == "" {
		path = "/"
	}
	entries, err := fs.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		marker := " "
		if e.Type == waxfs.TypeDirectory {
			marker = "d"
		} else if e.Type == waxfs.TypeDevice {
			marker = "c"
		}
		fmt.Printf("%s %4d %10d  %s\n", marker, e.Inum, e.Size, e.Name)
	}
	return fs.Unmount()
}

func catFile(ctx *cli.Context) error {
	fs, file, err := mountImage(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	f, err := fs.Open(ctx.Args().First(), fsys.OpenRead)
	if err != nil {
		return err
	}
	buf := make([]byte, 4*layout.BlockSize)
	for {
		n, err := f.Read(buf)
		if err != nil {
			f.Close()
			return err
		}
		if n == 0 {
			break
		}
		if _, err := os.Stdout.Write(buf[:n]); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fs.Unmount()
}

func putFile(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return waxfs.ErrInvalidArgument.WithMessage("put needs HOST_FILE and IMAGE_PATH")
	}
	data, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	fs, file, err := mountImage(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	f, err := fs.Open(ctx.Args().Get(1), fsys.OpenWrite|fsys.OpenCreate|fsys.OpenTrunc)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Info("copied file in",
		"bytes", humanize.IBytes(uint64(len(data))), "to", ctx.Args().Get(1))
	return fs.Unmount()
}

func getFile(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return waxfs.ErrInvalidArgument.WithMessage("get needs IMAGE_PATH and HOST_FILE")
	}
	fs, file, err := mountImage(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	f, err := fs.Open(ctx.Args().Get(0), fsys.OpenRead)
	if err != nil {
		return err
	}
	out, err := os.Create(ctx.Args().Get(1))
	if err != nil {
		f.Close()
		return err
	}
	buf := make([]byte, 4*layout.BlockSize)
	for {
		n, readErr := f.Read(buf)
		if readErr != nil {
			err = readErr
			break
		}
		if n == 0 {
			break
		}
		if _, writeErr := out.Write(buf[:n]); writeErr != nil {
			err = writeErr
			break
		}
	}
	f.Close()
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	return fs.Unmount()
}

func makeDirectory(ctx *cli.Context) error {
	fs, file, err := mountImage(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := fs.Mkdir(ctx.Args().First()); err != nil {
		return err
	}
	return fs.Unmount()
}

func removePath(ctx *cli.Context) error {
	fs, file, err := mountImage(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := fs.Unlink(ctx.Args().First()); err != nil {
		return err
	}
	return fs.Unmount()
}

func linkPath(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return waxfs.ErrInvalidArgument.WithMessage("ln needs OLDPATH and NEWPATH")
	}
	fs, file, err := mountImage(ctx)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := fs.Link(ctx.Args().Get(0), ctx.Args().Get(1)); err != nil {
		return err
	}
	return fs.Unmount()
}
