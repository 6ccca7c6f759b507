package main

import (
	"fmt"
	"os"
	"strings"

	"tgdrive/internal/app"
	"tgdrive/internal/config"
	"tgdrive/internal/drive"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Upload", "Reconcile").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "tgdrive",
	Short: "Personal file storage in a messaging channel",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, _ := cmd.Flags().GetInt64("chat-id")
		if chatID == 0 {
			return fmt.Errorf("--chat-id is required")
		}

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(chatID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Chat ID:  %d\n", chatID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Chat ID:   %d\n", cfg.ChatID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Cache Dir: %s\n", cfg.CacheDir)
		return nil
	},
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir NAME",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetString("parent")

		a, err := newApp("Mkdir")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Mkdir(cmd.Context(), parent, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created directory %s (%s)\n", args[0], id)
		return nil
	},
}

// tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "View the directory tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Tree")
		if err != nil {
			return err
		}
		defer a.Close()

		root, err := a.Tree()
		if err != nil {
			return err
		}
		printTree(root, 0)
		return nil
	},
}

func printTree(node *drive.DirNode, depth int) {
	broken := ""
	if node.IsBroken {
		broken = "  [broken]"
	}
	if depth == 0 {
		fmt.Println("/")
	} else {
		fmt.Printf("%s%s  (%s)%s\n", strings.Repeat("  ", depth), node.Name, node.ID, broken)
	}
	for _, child := range node.Children {
		printTree(child, depth+1)
	}
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls DIR_ID",
	Short: "List files in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("List")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.List(args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No files.")
			return nil
		}
		printFileItems(items)
		return nil
	},
}

func printFileItems(items []*drive.FileItem) {
	for _, item := range items {
		var indicator string
		switch {
		case item.IsBroken:
			indicator = "! "
		case item.IsDownloaded:
			indicator = "D "
		default:
			indicator = "  "
		}
		fmt.Printf("%s%-40s  %10d  %s\n", indicator, item.Name, item.Size, item.ID)
	}
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search files in the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		ext, _ := cmd.Flags().GetString("ext")
		dir, _ := cmd.Flags().GetString("dir")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("Search")
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.Search(drive.FileFilter{Name: name, Extension: ext, DirID: dir, Limit: int64(limit)})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		printFileItems(items)
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload DIR_ID PATH...",
	Short: "Upload local files into a directory",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Upload")
		if err != nil {
			return err
		}
		defer a.Close()

		dirID := args[0]
		for _, path := range args[1:] {
			id, err := a.Upload(cmd.Context(), dirID, path)
			if err != nil {
				return fmt.Errorf("uploading %s: %w", path, err)
			}
			fmt.Printf("Uploaded %s (%s)\n", path, id)
		}
		return nil
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv FILE_ID DIR_ID",
	Short: "Move a file to another directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Move")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Move(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Moved.")
		return nil
	},
}

// mvdir command
var mvdirCmd = &cobra.Command{
	Use:   "mvdir DIR_ID PARENT_ID",
	Short: "Move a directory under another parent (use ROOT for the top level)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("MoveDir")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.MoveDir(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Moved.")
		return nil
	},
}

// rename command
var renameCmd = &cobra.Command{
	Use:   "rename DIR_ID NAME",
	Short: "Rename a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Rename")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Rename(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Renamed.")
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm FILE_ID...",
	Short: "Delete files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Remove")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Remove(cmd.Context(), args); err != nil {
			return err
		}
		fmt.Printf("Deleted %d file(s)\n", len(args))
		return nil
	},
}

// rmdir command
var rmdirCmd = &cobra.Command{
	Use:   "rmdir DIR_ID",
	Short: "Delete an empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Rmdir")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Rmdir(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted.")
		return nil
	},
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download FILE_ID",
	Short: "Download a file into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		a, err := newApp("Download")
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := a.Download(cmd.Context(), args[0], overwrite)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

// repair command
var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair broken entries",
}

var repairDirCmd = &cobra.Command{
	Use:   "dir DIR_ID",
	Short: "Republish a directory's metadata message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RepairDir")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RepairDir(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Repaired.")
		return nil
	},
}

var repairFileCmd = &cobra.Command{
	Use:   "file FILE_ID",
	Short: "Restore a file's backing message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")

		a, err := newApp("RepairFile")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.RepairFile(cmd.Context(), args[0], source)
		if err != nil {
			return err
		}
		if result == drive.NeedsSourceFile {
			fmt.Println("No local copy available; re-run with --source PATH.")
			return nil
		}
		fmt.Println("Repaired.")
		return nil
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the index against recent channel messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt64("limit")

		a, err := newApp("Reconcile")
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Reconcile(cmd.Context(), limit)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned %d message(s): %d dir(s), %d file(s), %d imported, %d failed\n",
			stats.Scanned, stats.DirsSeen, stats.FilesSeen, stats.Imported, stats.Failed)
		fmt.Printf("Flagged %d, cleared %d\n",
			stats.MarkedDirs+stats.MarkedFiles, stats.ClearedDirs+stats.ClearedFiles)
		return nil
	},
}

// rebuild command
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the index from the full channel history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Rebuild")
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Rebuild(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d message(s): %d dir(s), %d file(s), %d imported, %d failed\n",
			stats.Processed, stats.Dirs, stats.Files, stats.Imported, stats.Failed)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().Int64("chat-id", 0, "Storage channel chat id")

	repairCmd.AddCommand(repairDirCmd)
	repairCmd.AddCommand(repairFileCmd)
	repairFileCmd.Flags().String("source", "", "Local file to republish from")

	mkdirCmd.Flags().StringP("parent", "p", "", "Parent directory id (default root)")
	searchCmd.Flags().String("name", "", "Name substring to match")
	searchCmd.Flags().String("ext", "", "File extension to match")
	searchCmd.Flags().String("dir", "", "Restrict to a directory id")
	searchCmd.Flags().IntP("limit", "n", 100, "Maximum number of matches")
	downloadCmd.Flags().Bool("overwrite", false, "Refresh an existing cached copy")
	reconcileCmd.Flags().Int64P("limit", "n", 200, "Number of recent messages to scan")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(mvdirCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(rmdirCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(rebuildCmd)
}
