// Package testing switches the stockledger binaries into test mode.
// Blank-import it from tests that build the application.
package testing

import "os"

// TestModeEnv is the variable app.InTestMode reads.
const TestModeEnv = "STOCKLEDGER_TEST_MODE"

func init() {
	_ = os.Setenv(TestModeEnv, "1")
}
