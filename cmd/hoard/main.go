package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	"github.com/t7a/hoard"
)

func init() {
	var debug string
	debug = os.Getenv("DEBUG")
	if debug == "1" {
		log.SetLevel(log.DebugLevel)
	}
	logrus.SetReportCaller(true)
	formatter := &logrus.TextFormatter{
		CallerPrettyfier: caller(),
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyFile: "caller",
		},
	}
	formatter.TimestampFormat = "15:04:05.999999999"
	logrus.SetFormatter(formatter)
}

// caller returns string presentation of log caller which is formatted as
// `/path/to/file.go:line_number gid N`. e.g. `/internal/app/api.go:25 gid 1`
// https://stackoverflow.com/questions/63658002/is-it-possible-to-wrap-logrus-logger-functions-without-losing-the-line-number-pr
func caller() func(*runtime.Frame) (function string, file string) {
	return func(f *runtime.Frame) (function string, file string) {
		p, _ := os.Getwd()
		return "", fmt.Sprintf("%s:%d gid %d", strings.TrimPrefix(f.File, p), f.Line, hoard.GetGID())
	}
}

type Opts struct {
	Init      bool
	Status    bool
	Construct bool
	Complete  bool
	Discard   bool
	Remove    bool
	Rmitem    bool
	Wait      bool
	Ls        bool
	Alias     bool
	Resolve   bool
	Unalias   bool
	Aliases   bool
	HashArg   string `docopt:"<hash>"`
	Name      string `docopt:"<name>"`
	Quiet     bool   `docopt:"-q"`
}

func main() {
	// see https://github.com/google/go-cmdtest
	os.Exit(run())
}

func run() (rc int) {

	usage := `hoard

Usage:
  hoard init
  hoard status <hash>
  hoard construct [-q] <hash>
  hoard complete [-q] <hash>
  hoard discard <hash>
  hoard remove <hash>
  hoard rmitem <hash>
  hoard wait <hash>
  hoard ls
  hoard alias <name> <hash>
  hoard resolve <name>
  hoard unalias <name>
  hoard aliases

Options:
  -h --help     Show this screen.
  -q            Suppress normal output.
  --version     Show version.
`
	parser := &docopt.Parser{OptionsFirst: false}
	o, _ := parser.ParseArgs(usage, os.Args[1:], "0.0")
	var opts Opts
	err := o.Bind(&opts)
	if err != nil {
		log.Error(err)
		return 22
	}
	log.Debug(opts)

	switch true {
	case opts.Init:
		msg, err := create()
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(msg)
	case opts.Status:
		err := withKey(opts.HashArg, func(st *hoard.Store, key hoard.Hash) (err error) {
			status, err := st.Query(key)
			if err != nil {
				return
			}
			fmt.Println(status)
			return
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Construct:
		err := withKey(opts.HashArg, func(st *hoard.Store, key hoard.Hash) (err error) {
			buildDir, err := st.MarkPending(key)
			if err != nil {
				return
			}
			if !opts.Quiet {
				fmt.Println(buildDir)
			}
			return
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Complete:
		err := withKey(opts.HashArg, func(st *hoard.Store, key hoard.Hash) (err error) {
			item, err := st.MarkComplete(key)
			if err != nil {
				return
			}
			if !opts.Quiet {
				fmt.Println(item.Hash)
			}
			return
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Discard:
		err := withKey(opts.HashArg, func(st *hoard.Store, key hoard.Hash) error {
			return st.RemoveFailed(key)
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Remove:
		err := withKey(opts.HashArg, func(st *hoard.Store, key hoard.Hash) error {
			return st.RemoveForcibly(key)
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Rmitem:
		err := withKey(opts.HashArg, func(st *hoard.Store, key hoard.Hash) error {
			item := hoard.Item{}.New(st.Dir, key)
			return st.RemoveItemForcibly(item)
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Wait:
		err := withKey(opts.HashArg, func(st *hoard.Store, key hoard.Hash) (err error) {
			item, err := st.WaitUntilComplete(key)
			if err != nil {
				return
			}
			if item == nil {
				return fmt.Errorf("not complete: %s", key)
			}
			fmt.Println(item.Hash)
			return
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Ls:
		err := hoard.WithStore(storeDir(), func(st *hoard.Store) (err error) {
			pending, complete, items, err := st.ListAll()
			if err != nil {
				return
			}
			for _, key := range pending {
				fmt.Printf("pending %s\n", key)
			}
			for _, key := range complete {
				fmt.Printf("complete %s\n", key)
			}
			for _, hash := range items {
				fmt.Printf("item %s\n", hash)
			}
			return
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Alias:
		err := withKey(opts.HashArg, func(st *hoard.Store, key hoard.Hash) error {
			item := hoard.Item{}.New(st.Dir, key)
			return st.AssignAlias(opts.Name, item)
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Resolve:
		err := hoard.WithStore(storeDir(), func(st *hoard.Store) (err error) {
			item, err := st.LookupAlias(opts.Name)
			if err != nil {
				return
			}
			if item == nil {
				return fmt.Errorf("no such alias: %s", opts.Name)
			}
			fmt.Println(item.Hash)
			return
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Unalias:
		err := hoard.WithStore(storeDir(), func(st *hoard.Store) error {
			return st.RemoveAlias(opts.Name)
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Aliases:
		err := hoard.WithStore(storeDir(), func(st *hoard.Store) (err error) {
			aliases, err := st.ListAliases()
			if err != nil {
				return
			}
			for _, alias := range aliases {
				fmt.Printf("%s %s\n", alias.Name, alias.Dest)
			}
			return
		})
		if err != nil {
			log.Error(err)
			return 42
		}
	}
	return 0
}

func storeDir() (dir string) {
	dir = os.Getenv("HOARDDIR")
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			// XXX handling this better would mean that storeDir needs
			// to return an err
			panic("can't get current directory")
		}
	}
	return
}

func create() (msg string, err error) {
	dir := storeDir()
	st, err := hoard.Open(dir)
	if err != nil {
		return
	}
	err = st.Close()
	if err != nil {
		return
	}
	return fmt.Sprintf("Initialized empty store in %s", dir), nil
}

// withKey parses the hash argument and runs fn with an open store,
// closing it on every exit path.
func withKey(arg string, fn func(st *hoard.Store, key hoard.Hash) error) (err error) {
	key, err := hoard.ParseHash(arg)
	if err != nil {
		return
	}
	return hoard.WithStore(storeDir(), func(st *hoard.Store) error {
		return fn(st, key)
	})
}
