// Package cli holds helpers shared by the sextant commands: output
// formatting, exit codes, signal handling and a progress bar.
//
//	format, err := cli.ParseFormat(flagOutput)
//	if err != nil {
//		return err
//	}
//	return cli.NewFormatter(format).FormatTo(os.Stdout, resp)
package cli
