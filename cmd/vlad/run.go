package main

import (
	"context"
	"fmt"

	"github.com/mfittko/vlad/internal/config"
	"github.com/mfittko/vlad/internal/edr"
	"github.com/mfittko/vlad/internal/logging"
	"github.com/mfittko/vlad/internal/output"
	"github.com/mfittko/vlad/internal/validation"
	"github.com/mfittko/vlad/internal/workflow"
	"go.uber.org/zap"
)

// actionNames are the mutually exclusive primary actions, in flag order.
var actionNames = []string{
	"list-endpoints",
	"search-endpoints",
	"command",
	"download-file",
	"clear-file",
	"list-library",
	"clear-library",
}

// validate checks the flag combination before anything touches the network
func (a *app) validate() validation.Errors {
	fl := a.flags
	var errs validation.Errors

	errs.Add(validation.Required("client", fl.client))
	errs.Add(validation.Required("vendor", fl.vendor))
	errs.Add(validation.OneOfFold("vendor", fl.vendor, a.registry.Names()))
	errs.Add(validation.ExactlyOne("action", actionNames, map[string]bool{
		"list-endpoints":   fl.listEndpoints,
		"search-endpoints": fl.searchEndpoints != "",
		"command":          fl.command != "",
		"download-file":    fl.downloadFile != "",
		"clear-file":       fl.clearFile != "",
		"list-library":     fl.listLibrary,
		"clear-library":    fl.clearLibrary,
	}))
	errs.Add(validation.RequiredWith("machineid", fl.machineID, map[string]string{
		"command":       fl.command,
		"download-file": fl.downloadFile,
	}))
	errs.Add(validation.MachineID("machineid", fl.machineID))
	errs.Add(validation.Base64("command", fl.command))
	errs.Add(validation.LocalFile("binary", fl.binary))
	errs.Add(validation.FileName("clear-file", fl.clearFile))

	if fl.binary != "" && fl.command == "" {
		errs.Add(&validation.Error{
			Field:       "binary",
			Value:       fl.binary,
			Message:     "--binary only applies to --command",
			Remediation: "Add --command with the script that uses the binary",
		})
	}
	if fl.force && fl.command == "" && fl.downloadFile == "" {
		errs.Add(&validation.Error{
			Field:       "force",
			Message:     "--force only applies to --command or --download-file",
			Remediation: "Drop --force or add the action it should clear the way for",
		})
	}
	return errs
}

// reportInvalid prints validation problems to stderr in the selected format
func (a *app) reportInvalid(format output.Format, errs validation.Errors) error {
	errOut := output.New(format)
	errOut.SetWriter(a.stderr)
	if err := errOut.PrintValidation(output.NewValidationResult(errs)); err != nil {
		return err
	}
	return &workflow.ExitError{Code: 1}
}

func (a *app) run(ctx context.Context) error {
	settings, err := config.LoadSettings(a.v)
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(settings.Output)
	if err != nil {
		return err
	}
	if errs := a.validate(); errs.HasErrors() {
		return a.reportInvalid(format, errs)
	}

	logger, err := logging.New(settings.LogLevel, a.stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path, err := config.ResolvePath(settings.ConfigPath)
	if err != nil {
		return err
	}
	creds, err := config.LoadCredentials(path)
	if err != nil {
		return err
	}
	cred, err := creds.Lookup(a.flags.client, a.flags.vendor)
	if err != nil {
		return err
	}
	logger.Debug("credentials loaded", zap.String("config", path), zap.String("client", a.flags.client))

	vendor, err := a.registry.New(a.flags.vendor, edr.Deps{
		Logger:             logger,
		HTTPTimeout:        settings.HTTPTimeout,
		InsecureSkipVerify: settings.InsecureSkipVerify,
		UserAgent:          "vlad/" + version,
		PollTimeout:        settings.Timeout,
	})
	if err != nil {
		return err
	}
	session, err := vendor.Authenticate(ctx, cred)
	if err != nil {
		return err
	}

	progress := output.NewProgress(a.stderr)
	defer progress.Done()
	runner := workflow.New(workflow.Options{
		Vendor:       vendor,
		Session:      session,
		Logger:       logger,
		Progress:     progress.Tick,
		TmpDir:       settings.TmpDir,
		DownloadsDir: settings.DownloadsDir,
	})

	out := output.New(format)
	out.SetWriter(a.stdout)
	return a.dispatch(ctx, out, vendor.Name(), runner, progress)
}

func (a *app) dispatch(ctx context.Context, out *output.Formatter, vendorName string, runner *workflow.Runner, progress *output.Progress) error {
	fl := a.flags
	switch {
	case fl.listEndpoints, fl.searchEndpoints != "":
		_, err := out.PrintMachines(vendorName, fl.client, runner.Machines(ctx, fl.searchEndpoints))
		return err

	case fl.command != "":
		rep, err := runner.RunScript(ctx, workflow.RunScriptRequest{
			MachineID: fl.machineID,
			Command:   fl.command,
			Binary:    fl.binary,
			Force:     fl.force,
		})
		progress.Done()
		if err != nil {
			return err
		}
		exec := output.Execution{Machine: rep.Machine, Command: rep.Command, Result: rep.Result}
		if rep.CleanupErr != nil {
			exec.Warning = rep.CleanupErr.Error()
		}
		if err := out.PrintExecution(exec); err != nil {
			return err
		}
		if rep.Result != nil && rep.Result.ExitCode != 0 {
			return &workflow.ExitError{Code: 1, Err: fmt.Errorf("script exited with code %d", rep.Result.ExitCode)}
		}
		return nil

	case fl.downloadFile != "":
		res, err := runner.CollectFile(ctx, workflow.CollectRequest{
			MachineID:  fl.machineID,
			RemotePath: fl.downloadFile,
			Force:      fl.force,
		})
		progress.Done()
		if err != nil {
			return err
		}
		return out.PrintCollected(fl.downloadFile, res)

	case fl.clearFile != "":
		f, err := runner.ClearFile(ctx, fl.clearFile)
		if err != nil {
			return err
		}
		return out.Print(output.DeletedResult(*f))

	case fl.listLibrary:
		files, err := runner.Library(ctx)
		if err != nil {
			return err
		}
		return out.PrintLibrary(vendorName, files)

	case fl.clearLibrary:
		rep, err := runner.ClearAll(ctx)
		if printErr := out.Print(output.ClearResult(rep.Deleted, rep.Failed, rep.Attempts, err)); printErr != nil {
			return printErr
		}
		if err != nil {
			return &workflow.ExitError{Code: 1}
		}
		return nil
	}
	return fmt.Errorf("no action selected")
}
