package usercontext

// LocalsKey is the fiber Locals key holding the request's UserContext.
const LocalsKey = "USER_CONTEXT"
