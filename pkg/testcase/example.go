package testcase

// Example is the sample case written by init-config --test-case.
const Example = `---
test_name: "Login and open the inbox"
environment: "test"
timeout: 600
retry_count: 3
priority: high
custom_data:
  message: "hello world"
---

# Login and open the inbox

**Objective:** log in to {{base_url}} with the test phone number, open the
first conversation and send a greeting.

### Step 1: Open the login page
- Go to {{base_url}}/#/login
- Click the "Phone login" tab before typing anything

Expected: the phone number field is visible

### Step 2: Log in
- Type {{credentials.phone}} into the phone number field
- Type {{credentials.code}} into the verification code field
- Click the login button

Expected: url contains "/home"

### Step 3: Send a message
- Open the first conversation in the inbox
- Type "{{custom_data.message}}" into the message box and press Enter

Expected: the message appears at the bottom of the conversation

## Expected results
- The user is logged in
- The greeting is delivered
`
