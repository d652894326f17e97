// Package process runs short-lived helper programs on behalf of cloudlink.
//
// The external configuration provider may be an executable instead of a Lua
// script. Each provider call starts the program once, passes the method and
// payload as arguments and collects its standard output as the response.
//
// Features:
//   - Process group isolation so helper children are cleaned up with it
//   - SIGTERM on cancellation, escalating to SIGKILL after a grace period
//   - Bounded capture of stdout and stderr
//   - Context-based deadlines
//
// Example usage:
//
//	r := process.NewRunner()
//	res, err := r.Run(ctx, process.Config{
//	    Name:   "provider",
//	    Binary: "/www/iot/handler/iot-client",
//	    Args:   []string{"get_config", ""},
//	})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(string(res.Stdout))
package process
